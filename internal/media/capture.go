package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// ErrCaptureUnavailable means no local capture could be opened.
var ErrCaptureUnavailable = errors.New("local capture unavailable")

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// Track is one shared local track. Every peer link sends the same Track, so
// disabling it mutes the participant for everyone at once.
type Track struct {
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

func newTrack(capability webrtc.RTPCodecCapability, kind, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(capability, kind, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	t := &Track{local: local}
	t.enabled.Store(true)
	return t, nil
}

// Local returns the pion track to add to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

// Toggle flips the track and returns the new state. Concurrent toggles each
// take effect exactly once.
func (t *Track) Toggle() bool {
	for {
		cur := t.enabled.Load()
		if t.enabled.CompareAndSwap(cur, !cur) {
			return !cur
		}
	}
}

// WriteSample forwards s to every bound peer. Samples written while the track
// is disabled are dropped.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}

// Capture is the participant's local audio and video, shared by every link.
type Capture struct {
	StreamID string

	audio *Track
	video *Track

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewCapture creates an Opus audio and a VP8 video track under one stream id.
func NewCapture() (*Capture, error) {
	streamID := "den-day-" + uuid.NewString()

	audio, err := newTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", streamID)
	if err != nil {
		return nil, err
	}
	video, err := newTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", streamID)
	if err != nil {
		return nil, err
	}

	return &Capture{
		StreamID: streamID,
		audio:    audio,
		video:    video,
		stop:     make(chan struct{}),
	}, nil
}

func (c *Capture) Audio() *Track { return c.audio }
func (c *Capture) Video() *Track { return c.video }

// Tracks returns the local tracks in the order they are added to links.
func (c *Capture) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{c.audio.Local(), c.video.Local()}
}

func (c *Capture) SetAudioEnabled(on bool) { c.audio.enabled.Store(on) }
func (c *Capture) SetVideoEnabled(on bool) { c.video.enabled.Store(on) }
func (c *Capture) AudioEnabled() bool      { return c.audio.Enabled() }
func (c *Capture) VideoEnabled() bool      { return c.video.Enabled() }
func (c *Capture) ToggleAudio() bool       { return c.audio.Toggle() }
func (c *Capture) ToggleVideo() bool       { return c.video.Toggle() }

// Go runs fn until the capture is closed. fn must return when stop is closed.
func (c *Capture) Go(fn func(stop <-chan struct{})) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.stop)
	}()
}

// Close stops every feeder and waits for them. Safe to call more than once.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
	return nil
}

// Source opens the local capture.
type Source interface {
	Acquire(ctx context.Context) (*Capture, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Capture, error)

func (f SourceFunc) Acquire(ctx context.Context) (*Capture, error) { return f(ctx) }

// SyntheticSource stands in for a microphone and camera: it feeds Opus
// silence so links carry live media, and leaves the video track idle.
type SyntheticSource struct{}

func (SyntheticSource) Acquire(ctx context.Context) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	c, err := NewCapture()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	c.Go(func(stop <-chan struct{}) {
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// Errors only mean no link is bound yet.
				_ = c.audio.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration})
			}
		}
	})
	return c, nil
}
