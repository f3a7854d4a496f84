// Package party runs one participant's side of a video party: local media,
// the signaling connection and the peer mesh.
package party

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ChilliRoger/den-day/internal/config"
	"github.com/ChilliRoger/den-day/internal/media"
	"github.com/ChilliRoger/den-day/internal/mesh"
	"github.com/ChilliRoger/den-day/internal/netcheck"
	"github.com/ChilliRoger/den-day/internal/protocol"
	"github.com/ChilliRoger/den-day/internal/room"
	"github.com/ChilliRoger/den-day/internal/signalclient"
)

// Signaler is the session's link to the signaling server.
type Signaler interface {
	Send(msg *protocol.Message) error
	Incoming() <-chan *protocol.Message
	// Err reports why the connection ended once Incoming is closed.
	Err() error
	Close()
}

// DialFunc opens the signaling connection.
type DialFunc func(ctx context.Context) (Signaler, error)

// FactoryFunc builds the peer connection factory around the local capture.
type FactoryFunc func(capture *media.Capture) (mesh.ConnFactory, error)

type Options struct {
	Config *config.Config
	// Host creates the room; otherwise RoomCode is joined.
	Host     bool
	RoomCode string
	// Topic is whose birthday it is. Host only.
	Topic  string
	UserID string

	Source  media.Source
	Dial    DialFunc
	Factory FactoryFunc
	Log     *slog.Logger
}

type EventKind int

const (
	EventChat EventKind = iota
	EventCakeCutting
	EventParticipantJoined
	EventParticipantLeft
	EventRoomClosed
	EventPeer
	EventDisconnected
)

// Event is something the view should show.
type Event struct {
	Kind EventKind

	Chat     *protocol.ChatMessage
	UserID   string
	UserName string
	Count    int
	Reason   string
	Topic    string

	// Peer is set for EventPeer.
	Peer *mesh.Event
}

// Session is one participant in one room.
type Session struct {
	opts Options
	log  *slog.Logger

	capture *media.Capture
	sig     Signaler
	handler *signalclient.Handler
	sup     *mesh.Supervisor

	mu     sync.RWMutex
	info   protocol.RoomInfo
	userID string
	isHost bool

	events    chan Event
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	leaveOnce sync.Once
}

func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("party: config required")
	}
	opts.RoomCode = strings.ToUpper(strings.TrimSpace(opts.RoomCode))
	switch {
	case opts.Host && opts.RoomCode == "":
		code, err := room.NewCode()
		if err != nil {
			return nil, newError("generate room code", err)
		}
		opts.RoomCode = code
	case !room.ValidCode(opts.RoomCode):
		op := "join room"
		if opts.Host {
			op = "create room"
		}
		return nil, &SessionError{Op: op, Code: protocol.CodeInvalidCode, Err: room.ErrInvalidCode}
	}
	if opts.Source == nil {
		opts.Source = media.SyntheticSource{}
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Dial == nil {
		opts.Dial = defaultDial(opts.Config, opts.Log)
	}
	if opts.Factory == nil {
		opts.Factory = defaultFactory(opts.Config, opts.Log)
	}
	return &Session{
		opts:   opts,
		log:    opts.Log.With("component", "party"),
		events: make(chan Event, 128),
	}, nil
}

func defaultDial(cfg *config.Config, log *slog.Logger) DialFunc {
	return func(ctx context.Context) (Signaler, error) {
		codec := protocol.Msgpack
		if cfg.Codec == "json" {
			codec = protocol.JSON
		}
		return signalclient.Dial(ctx, cfg.ServerURL, signalclient.Options{Codec: codec, Log: log})
	}
}

func defaultFactory(cfg *config.Config, log *slog.Logger) FactoryFunc {
	return func(capture *media.Capture) (mesh.ConnFactory, error) {
		servers, relay := mesh.ICEServers(cfg)
		if !relay && cfg.TURNServer != "" && netcheck.ShouldRelay() {
			log.Info("VPN or carrier NAT detected, relaying media through TURN")
			relay = true
		}
		return mesh.NewPionFactory(mesh.PionConfig{
			ICEServers: servers,
			ForceRelay: relay,
			Capture:    capture,
			Log:        log,
		})
	}
}

// Start opens media, connects, creates or joins the room and brings up the
// mesh. Media comes first: without it there is no point in joining.
func (s *Session) Start(ctx context.Context) (err error) {
	s.capture, err = s.opts.Source.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, media.ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %w", media.ErrCaptureUnavailable, err)
		}
		return newError("acquire media", fmt.Errorf("%w: %w", ErrMediaUnavailable, err))
	}
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	factory, err := s.opts.Factory(s.capture)
	if err != nil {
		return newError("prepare peer connections", err)
	}

	s.sig, err = s.opts.Dial(ctx)
	if err != nil {
		return newError("connect to server", err)
	}

	s.handler = signalclient.NewHandler()
	replies := s.handler.Subscribe(protocol.TypeRoomCreated, protocol.TypeRoomJoined, protocol.TypeError)
	meshIn := s.handler.Subscribe(
		protocol.TypeExistingParticipants, protocol.TypeUserJoined, protocol.TypeUserLeft,
		protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate, protocol.TypeRoomClosed,
	)
	viewIn := s.handler.Subscribe(
		protocol.TypeChatMessage, protocol.TypeCakeCuttingStarted,
		protocol.TypeUserJoined, protocol.TypeUserLeft, protocol.TypeRoomClosed,
	)
	go s.handler.Run(s.sig.Incoming())

	op, req := s.request()
	if err := s.sig.Send(req); err != nil {
		return newError(op, err)
	}

	reply, err := s.await(ctx, op, replies)
	replies.Close()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.userID = reply.UserID
	if reply.RoomInfo != nil {
		s.info = *reply.RoomInfo
	}
	s.info.RoomCode = reply.RoomCode
	s.isHost = s.opts.Host
	s.mu.Unlock()

	s.sup, err = mesh.New(mesh.Config{
		SelfID:   reply.UserID,
		SelfName: s.opts.Config.Name,
		RoomCode: reply.RoomCode,
		Factory:  factory,
		Signal:   s.sig,
		Log:      s.opts.Log,
	})
	if err != nil {
		return newError("start mesh", err)
	}
	peers := s.sup.Subscribe(64)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		_ = s.sup.Run(runCtx, meshIn.C)
	}()
	go func() {
		defer s.wg.Done()
		s.forward(runCtx, viewIn, peers)
	}()

	s.log.Info("Joined party", "room", reply.RoomCode, "user", reply.UserID, "host", s.opts.Host)
	return nil
}

func (s *Session) request() (string, *protocol.Message) {
	name := s.opts.Config.Name
	if s.opts.Host {
		return "create room", &protocol.Message{
			Type:     protocol.TypeCreateRoom,
			RoomCode: s.opts.RoomCode,
			UserID:   s.opts.UserID,
			UserName: name,
			HostName: name,
			Topic:    s.opts.Topic,
		}
	}
	return "join room", &protocol.Message{
		Type:     protocol.TypeJoinRoom,
		RoomCode: s.opts.RoomCode,
		UserID:   s.opts.UserID,
		UserName: name,
	}
}

// await waits for the server's answer to create or join. There is no
// timeout beyond ctx.
func (s *Session) await(ctx context.Context, op string, replies *signalclient.Subscription) (*protocol.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, newError(op, ctx.Err())
		case msg, ok := <-replies.C:
			if !ok {
				return nil, newError(op, ErrDisconnected)
			}
			switch msg.Type {
			case protocol.TypeError:
				return nil, serverError(op, msg.Error)
			case protocol.TypeRoomCreated, protocol.TypeRoomJoined:
				if msg.UserID == "" || msg.RoomCode == "" {
					return nil, newError(op, fmt.Errorf("%w: incomplete reply", ErrSignaling))
				}
				return msg, nil
			}
		}
	}
}

// forward turns server and mesh traffic into view events.
func (s *Session) forward(ctx context.Context, in *signalclient.Subscription, peers *mesh.Subscription) {
	serverIn, meshIn := in.C, peers.C
	for serverIn != nil || meshIn != nil {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-serverIn:
			if !ok {
				serverIn = nil
				ev := Event{Kind: EventDisconnected}
				if err := s.sig.Err(); err != nil {
					ev.Reason = err.Error()
				}
				s.emit(ctx, ev)
				continue
			}
			if ev, ok := s.translate(msg); ok {
				s.emit(ctx, ev)
			}
		case ev, ok := <-meshIn:
			if !ok {
				meshIn = nil
				continue
			}
			s.emit(ctx, Event{Kind: EventPeer, Peer: &ev})
		}
	}
}

func (s *Session) translate(msg *protocol.Message) (Event, bool) {
	switch msg.Type {
	case protocol.TypeChatMessage:
		if msg.Chat == nil {
			return Event{}, false
		}
		return Event{Kind: EventChat, Chat: msg.Chat}, true

	case protocol.TypeCakeCuttingStarted:
		return Event{Kind: EventCakeCutting, Topic: msg.Topic}, true

	case protocol.TypeUserJoined:
		s.mu.Lock()
		s.info.ParticipantCount = msg.ParticipantCount
		s.upsertLocked(protocol.ParticipantInfo{UserID: msg.UserID, UserName: msg.UserName})
		s.mu.Unlock()
		return Event{Kind: EventParticipantJoined, UserID: msg.UserID, UserName: msg.UserName, Count: msg.ParticipantCount}, true

	case protocol.TypeUserLeft:
		s.mu.Lock()
		s.info.ParticipantCount = msg.ParticipantCount
		for i, p := range s.info.Participants {
			if p.UserID == msg.UserID {
				s.info.Participants = append(s.info.Participants[:i], s.info.Participants[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return Event{Kind: EventParticipantLeft, UserID: msg.UserID, UserName: msg.UserName, Count: msg.ParticipantCount}, true

	case protocol.TypeRoomClosed:
		return Event{Kind: EventRoomClosed, Reason: msg.Reason}, true
	}
	return Event{}, false
}

// upsertLocked must be called with s.mu held.
func (s *Session) upsertLocked(p protocol.ParticipantInfo) {
	for i := range s.info.Participants {
		if s.info.Participants[i].UserID == p.UserID {
			p.IsHost = s.info.Participants[i].IsHost
			s.info.Participants[i] = p
			return
		}
	}
	s.info.Participants = append(s.info.Participants, p)
}

func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// Events is closed after Leave.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	code, userID, err := s.identity()
	if err != nil {
		return err
	}
	return s.sig.Send(&protocol.Message{
		Type:     protocol.TypeChatMessage,
		RoomCode: code,
		UserID:   userID,
		Text:     text,
	})
}

// StartCakeCutting asks the server to start the ceremony for everyone. Only
// the host may; the server ignores anyone else.
func (s *Session) StartCakeCutting() error {
	code, userID, err := s.identity()
	if err != nil {
		return err
	}
	if !s.IsHost() {
		return ErrNotHost
	}
	return s.sig.Send(&protocol.Message{
		Type:     protocol.TypeStartCakeCutting,
		RoomCode: code,
		UserID:   userID,
	})
}

// ToggleAudio flips the shared microphone track and reports the new state.
// Every link carries the same track, so nothing is renegotiated.
func (s *Session) ToggleAudio() bool {
	if s.capture == nil {
		return false
	}
	return s.capture.ToggleAudio()
}

func (s *Session) ToggleVideo() bool {
	if s.capture == nil {
		return false
	}
	return s.capture.ToggleVideo()
}

func (s *Session) AudioEnabled() bool { return s.capture != nil && s.capture.AudioEnabled() }
func (s *Session) VideoEnabled() bool { return s.capture != nil && s.capture.VideoEnabled() }

// Leave tells the server, closes every peer link, releases media and closes
// the connection. Safe to call more than once.
func (s *Session) Leave() {
	s.leaveOnce.Do(func() {
		if s.sig != nil && s.sup != nil {
			code, userID, _ := s.identity()
			if err := s.sig.Send(&protocol.Message{Type: protocol.TypeLeaveRoom, RoomCode: code, UserID: userID}); err != nil {
				s.log.Debug("Leave not delivered", "error", err)
			}
		}
		if s.sup != nil {
			s.sup.Close()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.release()
		s.wg.Wait()
		close(s.events)
		s.log.Info("Left party")
	})
}

// release frees media and the connection.
func (s *Session) release() {
	if s.capture != nil {
		_ = s.capture.Close()
	}
	if s.sig != nil {
		s.sig.Close()
	}
	if s.handler != nil {
		s.handler.Close()
	}
}

func (s *Session) identity() (code, userID string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" {
		return "", "", ErrNotStarted
	}
	return s.info.RoomCode, s.userID, nil
}

func (s *Session) RoomCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.RoomCode
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) IsHost() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isHost
}

// Info returns the room as last reported by the server.
func (s *Session) Info() protocol.RoomInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := s.info
	info.Participants = append([]protocol.ParticipantInfo(nil), s.info.Participants...)
	return info
}

// Peers returns the current peer links.
func (s *Session) Peers() []mesh.PeerSnapshot {
	if s.sup == nil {
		return nil
	}
	return s.sup.Peers()
}
