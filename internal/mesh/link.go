package mesh

import (
	"fmt"
	"sync"

	"github.com/ChilliRoger/den-day/internal/protocol"
)

// Conn is the native peer connection behind a PeerLink.
type Conn interface {
	// CreateOffer sets and returns the local offer.
	CreateOffer() (string, error)
	// Accept applies a remote offer and returns the local answer.
	Accept(offerSDP string) (string, error)
	SetAnswer(answerSDP string) error
	AddCandidate(c protocol.Candidate) error
	Close() error
}

// ConnState is the transport state reported by a Conn.
type ConnState int

const (
	ConnConnected ConnState = iota
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// RemoteTrack describes one media track received from a peer.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
	Codec    string
}

// RemoteStream groups the tracks a peer sent under one stream id.
type RemoteStream struct {
	ID     string
	Tracks []RemoteTrack
}

// ConnEvents are the callbacks a Conn invokes. They may run on any goroutine.
type ConnEvents struct {
	OnCandidate func(protocol.Candidate)
	OnTrack     func(RemoteTrack)
	OnState     func(ConnState)
}

// ConnFactory opens a Conn toward remoteID.
type ConnFactory func(remoteID string, ev ConnEvents) (Conn, error)

// PeerSnapshot is a read-only copy of a link.
type PeerSnapshot struct {
	ID     string
	Name   string
	Role   Role
	State  State
	Stream *RemoteStream
}

// Connecting reports whether no media has arrived from the peer yet.
func (p PeerSnapshot) Connecting() bool {
	return p.Stream == nil
}

// PeerLink is the supervisor's record of one remote participant.
type PeerLink struct {
	id   string
	name string
	role Role

	// opMu serializes negotiation steps on this link.
	opMu sync.Mutex

	mu            sync.Mutex
	conn          Conn
	state         State
	stream        *RemoteStream
	remoteSet     bool
	remotePending []protocol.Candidate
	localSent     bool
	localPending  []protocol.Candidate
}

func newLink(id, name string, role Role) *PeerLink {
	return &PeerLink{id: id, name: name, role: role, state: StateCreated}
}

func (l *PeerLink) ID() string { return l.id }

func (l *PeerLink) Snapshot() PeerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *PeerLink) snapshotLocked() PeerSnapshot {
	snap := PeerSnapshot{ID: l.id, Name: l.name, Role: l.role, State: l.state}
	if l.stream != nil {
		s := RemoteStream{ID: l.stream.ID, Tracks: append([]RemoteTrack(nil), l.stream.Tracks...)}
		snap.Stream = &s
	}
	return snap
}

// setConn attaches the native connection. It reports false when the link was
// torn down while the connection was being opened; the caller must close it.
func (l *PeerLink) setConn(c Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return false
	}
	l.conn = c
	return true
}

func (l *PeerLink) currentConn() (Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed || l.conn == nil {
		return nil, ErrLinkClosed
	}
	return l.conn, nil
}

func (l *PeerLink) transition(to State) (PeerSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !canTransition(l.state, to) {
		return l.snapshotLocked(), fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
	}
	l.state = to
	return l.snapshotLocked(), nil
}

// markClosed moves the link to Closed and hands back its connection. Only the
// first call gets ok=true.
func (l *PeerLink) markClosed() (conn Conn, snap PeerSnapshot, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return nil, l.snapshotLocked(), false
	}
	l.state = StateClosed
	conn = l.conn
	l.conn = nil
	l.remotePending = nil
	l.localPending = nil
	return conn, l.snapshotLocked(), true
}

// queueLocal holds a local candidate until the description that precedes it
// has been shipped. It reports whether the candidate should be sent now.
func (l *PeerLink) queueLocal(c protocol.Candidate) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return false
	}
	if !l.localSent {
		l.localPending = append(l.localPending, c)
		return false
	}
	return true
}

// releaseLocal marks the local description as sent and returns the
// candidates gathered before it.
func (l *PeerLink) releaseLocal() []protocol.Candidate {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.localSent = true
	pending := l.localPending
	l.localPending = nil
	return pending
}

// queueRemote buffers a remote candidate that arrived before the remote
// description. It reports whether the candidate can be applied now.
func (l *PeerLink) queueRemote(c protocol.Candidate) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.remoteSet {
		l.remotePending = append(l.remotePending, c)
		return false
	}
	return true
}

// releaseRemote marks the remote description as set and returns the buffered
// remote candidates.
func (l *PeerLink) releaseRemote() []protocol.Candidate {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteSet = true
	pending := l.remotePending
	l.remotePending = nil
	return pending
}

func (l *PeerLink) attachTrack(t RemoteTrack) (PeerSnapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return PeerSnapshot{}, false
	}
	if l.stream == nil {
		l.stream = &RemoteStream{ID: t.StreamID}
	}
	l.stream.Tracks = append(l.stream.Tracks, t)
	return l.snapshotLocked(), true
}
