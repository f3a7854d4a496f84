package mesh

import (
	"log/slog"
	"sync"
)

// EventType says what happened to a peer.
type EventType int

const (
	// EventPeerAdded fires when a link is created, either side.
	EventPeerAdded EventType = iota
	// EventPeerJoined fires on a join notice; no link exists yet.
	EventPeerJoined
	EventStreamAttached
	EventStateChanged
	EventPeerRemoved
)

func (t EventType) String() string {
	switch t {
	case EventPeerAdded:
		return "peer-added"
	case EventPeerJoined:
		return "peer-joined"
	case EventStreamAttached:
		return "stream-attached"
	case EventStateChanged:
		return "state-changed"
	case EventPeerRemoved:
		return "peer-removed"
	}
	return "unknown"
}

// Event is delivered to every subscriber. Peer is a snapshot taken when the
// event was raised. Err is set on EventPeerRemoved when a failure caused it.
type Event struct {
	Type EventType
	Peer PeerSnapshot
	Err  error
}

// Subscription receives supervisor events until Close is called or the
// supervisor shuts down.
type Subscription struct {
	C <-chan Event

	c     chan Event
	owner *broker
}

// Close stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.owner.remove(s)
}

// broker fans events out to any number of subscribers. A subscriber whose
// buffer is full misses the event rather than stalling negotiation.
type broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	log    *slog.Logger
}

func newBroker(log *slog.Logger) *broker {
	return &broker{subs: make(map[*Subscription]struct{}), log: log}
}

func (b *broker) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	c := make(chan Event, buffer)
	s := &Subscription{C: c, c: c, owner: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(c)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.c)
	}
}

func (b *broker) emit(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.c <- ev:
		default:
			b.log.Warn("Subscriber too slow, event dropped", "event", ev.Type.String(), "peer", ev.Peer.ID)
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.c)
	}
	clear(b.subs)
}
