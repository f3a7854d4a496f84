package mesh

import (
	"fmt"
	"log/slog"

	"github.com/ChilliRoger/den-day/internal/config"
	"github.com/ChilliRoger/den-day/internal/logging"
	"github.com/ChilliRoger/den-day/internal/media"
	"github.com/ChilliRoger/den-day/internal/protocol"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

type PionConfig struct {
	ICEServers []webrtc.ICEServer
	ForceRelay bool
	// API overrides the default pion API; tests pass one bound to a vnet.
	API *webrtc.API
	// Capture is sent on every link. Nil opens receive-only links.
	Capture *media.Capture
	Log     *slog.Logger
}

// ICEServers builds the STUN and TURN list from client config. Relay-only is
// honoured only when a TURN server is configured.
func ICEServers(cfg *config.Config) ([]webrtc.ICEServer, bool) {
	servers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turn := cfg.GetTURNServers()
	if turn != nil {
		username, password := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers, turn != nil && cfg.ForceRelay
}

// NewAPI returns a pion API with the default codecs and interceptors and with
// pion's logs routed to log.
func NewAPI(log *slog.Logger, se webrtc.SettingEngine) (*webrtc.API, error) {
	se.LoggerFactory = logging.PionFactory{Logger: log}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
	), nil
}

// NewPionFactory returns a ConnFactory backed by pion peer connections.
func NewPionFactory(cfg PionConfig) (ConnFactory, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	api := cfg.API
	if api == nil {
		var err error
		if api, err = NewAPI(log, webrtc.SettingEngine{}); err != nil {
			return nil, err
		}
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	rtc := webrtc.Configuration{
		ICEServers:         cfg.ICEServers,
		ICETransportPolicy: policy,
	}

	return func(remoteID string, ev ConnEvents) (Conn, error) {
		pc, err := api.NewPeerConnection(rtc)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}
		c := &pionConn{pc: pc}
		if err := c.addMedia(cfg.Capture); err != nil {
			_ = pc.Close()
			return nil, err
		}
		c.bind(ev)
		return c, nil
	}, nil
}

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) addMedia(capture *media.Capture) error {
	if capture == nil {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			_, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			})
			if err != nil {
				return fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
		return nil
	}

	for _, track := range capture.Tracks() {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		// RTCP has to be read for the interceptors to run.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (c *pionConn) bind(ev ConnEvents) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || ev.OnCandidate == nil {
			return
		}
		init := cand.ToJSON()
		ev.OnCandidate(protocol.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if ev.OnTrack != nil {
			ev.OnTrack(RemoteTrack{
				ID:       track.ID(),
				StreamID: track.StreamID(),
				Kind:     track.Kind().String(),
				Codec:    track.Codec().MimeType,
			})
		}
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if ev.OnState == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			ev.OnState(ConnConnected)
		case webrtc.PeerConnectionStateDisconnected:
			ev.OnState(ConnDisconnected)
		case webrtc.PeerConnectionStateFailed:
			ev.OnState(ConnFailed)
		case webrtc.PeerConnectionStateClosed:
			ev.OnState(ConnClosed)
		}
	})
}

func (c *pionConn) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *pionConn) Accept(offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return c.pc.LocalDescription().SDP, nil
}

func (c *pionConn) SetAnswer(answerSDP string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *pionConn) AddCandidate(cand protocol.Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}
