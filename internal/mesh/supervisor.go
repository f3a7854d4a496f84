package mesh

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/ChilliRoger/den-day/internal/protocol"
)

// Sender ships a negotiation message to the signaling server.
type Sender interface {
	Send(msg *protocol.Message) error
}

type Config struct {
	SelfID   string
	SelfName string
	RoomCode string
	Factory  ConnFactory
	Signal   Sender
	Log      *slog.Logger
}

// Supervisor owns one PeerLink per remote participant and assembles the full
// mesh. The member that joins last initiates toward every member already in
// the room; everyone else answers.
type Supervisor struct {
	cfg    Config
	log    *slog.Logger
	events *broker

	mu     sync.Mutex
	links  map[string]*PeerLink
	closed bool

	closeOnce sync.Once
}

func New(cfg Config) (*Supervisor, error) {
	if cfg.SelfID == "" {
		return nil, errors.New("mesh: self id required")
	}
	if cfg.Factory == nil {
		return nil, errors.New("mesh: conn factory required")
	}
	if cfg.Signal == nil {
		return nil, errors.New("mesh: signal sender required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "mesh", "self", cfg.SelfID)

	return &Supervisor{
		cfg:    cfg,
		log:    log,
		events: newBroker(log),
		links:  make(map[string]*PeerLink),
	}, nil
}

// Subscribe registers a new event listener with the given channel buffer.
func (s *Supervisor) Subscribe(buffer int) *Subscription {
	return s.events.subscribe(buffer)
}

// Run feeds msgs into Handle until ctx ends or msgs closes, then tears the
// mesh down.
func (s *Supervisor) Run(ctx context.Context, msgs <-chan *protocol.Message) error {
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.Handle(msg)
		}
	}
}

// Handle reacts to one inbound signaling event.
func (s *Supervisor) Handle(msg *protocol.Message) {
	if msg == nil || s.isClosed() {
		return
	}

	switch msg.Type {
	case protocol.TypeExistingParticipants:
		for _, p := range msg.Participants {
			if p.UserID == s.cfg.SelfID {
				continue
			}
			s.initiate(p.UserID, p.UserName)
		}

	case protocol.TypeUserJoined:
		if msg.UserID == "" || msg.UserID == s.cfg.SelfID {
			return
		}
		// The newcomer sends the offer; nothing to start here.
		s.log.Debug("Participant joined, awaiting offer", "peer", msg.UserID)
		s.events.emit(Event{Type: EventPeerJoined, Peer: PeerSnapshot{ID: msg.UserID, Name: msg.UserName}})

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		if !s.forMe(msg) {
			return
		}
		switch msg.Type {
		case protocol.TypeOffer:
			s.handleOffer(msg)
		case protocol.TypeAnswer:
			s.handleAnswer(msg)
		default:
			s.handleCandidate(msg)
		}

	case protocol.TypeUserLeft:
		s.Remove(msg.UserID)

	case protocol.TypeRoomClosed:
		s.log.Info("Room closed", "reason", msg.Reason)
		s.Close()
	}
}

func (s *Supervisor) forMe(msg *protocol.Message) bool {
	if msg.FromUserID == "" || msg.FromUserID == s.cfg.SelfID || msg.Signal == nil {
		s.log.Warn("Discarding malformed negotiation message", "type", msg.Type, "from", msg.FromUserID)
		return false
	}
	if msg.TargetUserID != "" && msg.TargetUserID != s.cfg.SelfID {
		s.log.Warn("Discarding negotiation message for another participant", "type", msg.Type, "target", msg.TargetUserID)
		return false
	}
	return true
}

// addLink inserts a fresh link with its opMu held. It returns nil when a
// link for id already exists or the supervisor is closed.
func (s *Supervisor) addLink(id, name string, role Role) *PeerLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if _, ok := s.links[id]; ok {
		return nil
	}
	l := newLink(id, name, role)
	l.opMu.Lock()
	s.links[id] = l
	return l
}

func (s *Supervisor) link(id string) *PeerLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[id]
}

// open creates the native connection for l. On failure the link is torn down.
func (s *Supervisor) open(l *PeerLink) (Conn, bool) {
	s.events.emit(Event{Type: EventPeerAdded, Peer: l.Snapshot()})

	conn, err := s.cfg.Factory(l.id, ConnEvents{
		OnCandidate: func(c protocol.Candidate) { s.localCandidate(l, c) },
		OnTrack:     func(t RemoteTrack) { s.remoteTrack(l, t) },
		OnState:     func(cs ConnState) { s.connState(l, cs) },
	})
	if err != nil {
		s.teardown(l, linkError("open connection", l.id, err))
		return nil, false
	}
	if !l.setConn(conn) {
		if err := conn.Close(); err != nil {
			s.log.Debug("Close after teardown failed", "peer", l.id, "error", err)
		}
		return nil, false
	}
	return conn, true
}

func (s *Supervisor) initiate(id, name string) {
	l := s.addLink(id, name, RoleInitiator)
	if l == nil {
		s.log.Debug("Link already present, not initiating", "peer", id)
		return
	}
	defer l.opMu.Unlock()

	conn, ok := s.open(l)
	if !ok {
		return
	}
	s.log.Info("Initiating connection", "peer", id, "name", name)

	sdp, err := conn.CreateOffer()
	if err != nil {
		s.teardown(l, linkError("create offer", id, err))
		return
	}
	if _, err := l.transition(StateSignaling); err != nil {
		s.log.Debug("Offer raced teardown", "peer", id, "error", err)
		return
	}
	if err := s.send(&protocol.Message{
		Type:         protocol.TypeOffer,
		TargetUserID: id,
		Signal:       &protocol.Signal{Type: protocol.SignalOffer, SDP: sdp},
	}); err != nil {
		s.teardown(l, linkError("send offer", id, err))
		return
	}
	s.flushLocal(l)
	s.events.emit(Event{Type: EventStateChanged, Peer: l.Snapshot()})
}

func (s *Supervisor) handleOffer(msg *protocol.Message) {
	from := msg.FromUserID
	if msg.Signal.SDP == "" {
		s.log.Warn("Offer without description", "peer", from)
		return
	}

	l := s.addLink(from, msg.FromUserName, RoleResponder)
	fresh := l != nil
	if !fresh {
		l = s.link(from)
		if l == nil {
			return
		}
		l.opMu.Lock()
		s.log.Debug("Renegotiating", "peer", from)
	}
	defer l.opMu.Unlock()

	var conn Conn
	if fresh {
		var ok bool
		if conn, ok = s.open(l); !ok {
			return
		}
		s.log.Info("Answering connection", "peer", from, "name", msg.FromUserName)
	} else {
		var err error
		if conn, err = l.currentConn(); err != nil {
			return
		}
	}

	answer, err := conn.Accept(msg.Signal.SDP)
	if err != nil {
		s.teardown(l, linkError("accept offer", from, err))
		return
	}
	s.applyRemote(l, conn)

	if fresh {
		if _, err := l.transition(StateSignaling); err != nil {
			s.log.Debug("Answer raced teardown", "peer", from, "error", err)
			return
		}
	}
	if err := s.send(&protocol.Message{
		Type:         protocol.TypeAnswer,
		TargetUserID: from,
		Signal:       &protocol.Signal{Type: protocol.SignalAnswer, SDP: answer},
	}); err != nil {
		s.teardown(l, linkError("send answer", from, err))
		return
	}
	s.flushLocal(l)
	if fresh {
		s.events.emit(Event{Type: EventStateChanged, Peer: l.Snapshot()})
	}
}

func (s *Supervisor) handleAnswer(msg *protocol.Message) {
	from := msg.FromUserID
	l := s.link(from)
	if l == nil {
		s.log.Warn("Answer from unknown peer discarded", "peer", from)
		return
	}
	l.opMu.Lock()
	defer l.opMu.Unlock()

	conn, err := l.currentConn()
	if err != nil {
		return
	}
	if err := conn.SetAnswer(msg.Signal.SDP); err != nil {
		s.teardown(l, linkError("set answer", from, err))
		return
	}
	s.applyRemote(l, conn)
}

func (s *Supervisor) handleCandidate(msg *protocol.Message) {
	from := msg.FromUserID
	l := s.link(from)
	if l == nil {
		s.log.Warn("Candidate from unknown peer discarded", "peer", from)
		return
	}
	if msg.Signal.Candidate == nil {
		s.log.Warn("Candidate message without candidate", "peer", from)
		return
	}
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if !l.queueRemote(*msg.Signal.Candidate) {
		s.log.Debug("Buffered early candidate", "peer", from)
		return
	}
	conn, err := l.currentConn()
	if err != nil {
		return
	}
	s.addCandidate(l, conn, *msg.Signal.Candidate)
}

// applyRemote applies candidates that arrived before the remote description.
func (s *Supervisor) applyRemote(l *PeerLink, conn Conn) {
	for _, c := range l.releaseRemote() {
		s.addCandidate(l, conn, c)
	}
}

func (s *Supervisor) addCandidate(l *PeerLink, conn Conn, c protocol.Candidate) {
	// A single bad candidate does not doom the link; ICE has others.
	if err := conn.AddCandidate(c); err != nil {
		s.log.Warn("Failed to add candidate", "peer", l.id, "error", err)
	}
}

func (s *Supervisor) localCandidate(l *PeerLink, c protocol.Candidate) {
	if !l.queueLocal(c) {
		return
	}
	s.sendCandidate(l, c)
}

func (s *Supervisor) flushLocal(l *PeerLink) {
	for _, c := range l.releaseLocal() {
		s.sendCandidate(l, c)
	}
}

func (s *Supervisor) sendCandidate(l *PeerLink, c protocol.Candidate) {
	err := s.send(&protocol.Message{
		Type:         protocol.TypeICECandidate,
		TargetUserID: l.id,
		Signal:       &protocol.Signal{Type: protocol.SignalCandidate, Candidate: &c},
	})
	if err != nil {
		s.log.Warn("Failed to send candidate", "peer", l.id, "error", err)
	}
}

func (s *Supervisor) remoteTrack(l *PeerLink, t RemoteTrack) {
	snap, ok := l.attachTrack(t)
	if !ok {
		return
	}
	s.log.Info("Remote track attached", "peer", l.id, "kind", t.Kind, "codec", t.Codec)
	s.events.emit(Event{Type: EventStreamAttached, Peer: snap})
}

func (s *Supervisor) connState(l *PeerLink, cs ConnState) {
	switch cs {
	case ConnConnected:
		snap, err := l.transition(StateConnected)
		if err != nil {
			// Reconnect after a transient disconnect, or a late event on a closed link.
			return
		}
		s.log.Info("Peer connected", "peer", l.id)
		s.events.emit(Event{Type: EventStateChanged, Peer: snap})
	case ConnDisconnected:
		s.log.Debug("Peer connection interrupted", "peer", l.id)
	case ConnFailed:
		s.teardown(l, linkError("connection", l.id, ErrConnFailed))
	case ConnClosed:
		s.teardown(l, nil)
	}
}

func (s *Supervisor) send(msg *protocol.Message) error {
	msg.RoomCode = s.cfg.RoomCode
	msg.FromUserID = s.cfg.SelfID
	return s.cfg.Signal.Send(msg)
}

// teardown closes l once. Later calls are no-ops.
func (s *Supervisor) teardown(l *PeerLink, cause error) {
	conn, snap, ok := l.markClosed()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.links[l.id] == l {
		delete(s.links, l.id)
	}
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Debug("Error closing peer connection", "peer", l.id, "error", err)
		}
	}

	if cause != nil {
		s.log.Warn("Peer link closed", "peer", l.id, "error", cause)
	} else {
		s.log.Info("Peer link closed", "peer", l.id)
	}
	s.events.emit(Event{Type: EventPeerRemoved, Peer: snap, Err: cause})
}

// Remove tears down the link to peerID if there is one.
func (s *Supervisor) Remove(peerID string) {
	if l := s.link(peerID); l != nil {
		s.teardown(l, nil)
	}
}

// Close tears down every link and ends every subscription. Safe to call more
// than once.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		links := make([]*PeerLink, 0, len(s.links))
		for _, l := range s.links {
			links = append(links, l)
		}
		s.mu.Unlock()

		for _, l := range links {
			s.teardown(l, nil)
		}
		s.events.close()
	})
}

func (s *Supervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Peers returns a snapshot of every live link, ordered by peer id.
func (s *Supervisor) Peers() []PeerSnapshot {
	s.mu.Lock()
	links := make([]*PeerLink, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.mu.Unlock()

	out := make([]PeerSnapshot, 0, len(links))
	for _, l := range links {
		out = append(out, l.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Supervisor) Peer(id string) (PeerSnapshot, bool) {
	l := s.link(id)
	if l == nil {
		return PeerSnapshot{}, false
	}
	return l.Snapshot(), true
}

func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}
