package signalclient

import (
	"sync"

	"github.com/ChilliRoger/den-day/internal/protocol"
)

// Handler fans incoming server messages out to typed subscriptions. Several
// consumers can watch the same event type without replacing each other.
type Handler struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	quit     chan struct{}
	quitOnce sync.Once
}

// Subscription delivers the message types it was created for.
type Subscription struct {
	C <-chan *protocol.Message

	c     chan *protocol.Message
	types map[string]struct{}
	done  chan struct{}
	once  sync.Once
	h     *Handler
}

func NewHandler() *Handler {
	return &Handler{
		subs: make(map[*Subscription]struct{}),
		quit: make(chan struct{}),
	}
}

// Subscribe returns a subscription for the given message types. No types
// means every message.
func (h *Handler) Subscribe(types ...string) *Subscription {
	return h.SubscribeBuffered(64, types...)
}

func (h *Handler) SubscribeBuffered(buffer int, types ...string) *Subscription {
	c := make(chan *protocol.Message, buffer)
	s := &Subscription{C: c, c: c, done: make(chan struct{}), h: h}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.stop()
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (s *Subscription) wants(t string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Close stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	// done first so a Dispatch blocked on this subscriber lets go of the lock.
	s.once.Do(func() { close(s.done) })
	s.h.mu.Lock()
	_, ok := s.h.subs[s]
	delete(s.h.subs, s)
	s.h.mu.Unlock()
	if ok {
		close(s.c)
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
	close(s.c)
}

// Dispatch hands msg to every matching subscriber, waiting for each to take
// it. Negotiation messages must not be lost, so slow consumers apply
// backpressure to the read pump instead of missing events.
func (h *Handler) Dispatch(msg *protocol.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.wants(msg.Type) {
			continue
		}
		select {
		case s.c <- msg:
		case <-s.done:
		case <-h.quit:
			return
		}
	}
}

// Run dispatches everything from in until it closes, then closes the handler.
func (h *Handler) Run(in <-chan *protocol.Message) {
	defer h.Close()
	for msg := range in {
		h.Dispatch(msg)
	}
}

// Close ends every subscription. Safe to call more than once.
func (h *Handler) Close() {
	h.quitOnce.Do(func() { close(h.quit) })

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.stop()
	}
	clear(h.subs)
}
