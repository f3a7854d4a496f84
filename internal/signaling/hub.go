package signaling

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ChilliRoger/den-day/internal/metrics"
	"github.com/ChilliRoger/den-day/internal/protocol"
	"github.com/ChilliRoger/den-day/internal/room"
)

// Registry is the room directory the hub relays against. *room.Registry[*Client]
// satisfies it.
type Registry interface {
	CreateRoom(code, hostName, topic string, host room.Participant[*Client]) (room.Snapshot[*Client], error)
	JoinRoom(code string, p room.Participant[*Client], onJoin func(room.Snapshot[*Client])) (room.Snapshot[*Client], error)
	RemoveParticipant(code, userID string) (room.Removal[*Client], error)
	Route(code, fromUserID, targetUserID string, fn func(from, to room.Participant[*Client])) error
	Broadcast(code, fromUserID string, hostOnly bool, fn func(from room.Snapshot[*Client], to room.Participant[*Client])) error
	Snapshot(code string) (room.Snapshot[*Client], error)
	Len() int
	RunSweeper(ctx context.Context, interval time.Duration, onSweep func(int))
}

var _ Registry = (*room.Registry[*Client])(nil)

// Options tunes the hub and its clients.
type Options struct {
	RateLimit     rate.Limit
	RateBurst     int
	SendBuffer    int
	SweepInterval time.Duration
}

// Hub owns the set of live connections and relays their events through the
// room registry. Message handling runs on each client's read goroutine; the
// registry serializes mutations per room.
type Hub struct {
	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for clients whose connection ended.
	Unregister chan *Client

	clients map[*Client]struct{}
	rooms   Registry
	metrics *metrics.Metrics
	log     *slog.Logger
	opts    Options

	now   func() time.Time
	newID func() string

	done chan struct{}
}

// NewHub creates a hub. A nil metrics gets a private instance.
func NewHub(rooms Registry, m *metrics.Metrics, log *slog.Logger, opts Options) *Hub {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Hour
	}
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]struct{}),
		rooms:      rooms,
		metrics:    m,
		log:        log.With("component", "signaling"),
		opts:       opts,
		now:        time.Now,
		newID:      uuid.NewString,
		done:       make(chan struct{}),
	}
}

// Rooms exposes the registry for read-only endpoints.
func (h *Hub) Rooms() Registry {
	return h.rooms
}

// RoomInfo returns the public snapshot of a room.
func (h *Hub) RoomInfo(code string) (*protocol.RoomInfo, error) {
	snap, err := h.rooms.Snapshot(code)
	if err != nil {
		return nil, err
	}
	return roomInfo(snap), nil
}

// Run is the hub's main loop. It also drives the registry sweeper and
// returns once ctx is done, closing every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	go h.rooms.RunSweeper(ctx, h.opts.SweepInterval, func(n int) {
		h.metrics.RoomsSwept.Add(float64(n))
		h.metrics.RoomsActive.Set(float64(h.rooms.Len()))
	})

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.leave(c)
				c.closeSend()
			}
			h.log.Info("Hub stopped", "clients", len(h.clients))
			return

		case c := <-h.Register:
			h.clients[c] = struct{}{}
			h.metrics.ConnectionsActive.Inc()
			h.log.Debug("Client registered", "conn", c.ID, "clientType", c.ClientType)

		case c := <-h.Unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			delete(h.clients, c)
			h.metrics.ConnectionsActive.Dec()

			// A dropped transport is the same as an explicit leave.
			h.leave(c)
			c.closeSend()
			h.log.Debug("Client unregistered", "conn", c.ID)
		}
	}
}

// unregister hands c to Run, or gives up if the hub has already stopped.
func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// register hands c to Run. It reports false when the hub has stopped.
func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Serve takes ownership of an upgraded connection and starts its pumps.
func (h *Hub) Serve(conn *websocket.Conn, clientType string, codec protocol.Codec) {
	c := NewClient(h, conn, clientType, codec)
	if !h.register(c) {
		conn.Close()
		return
	}

	go c.WritePump()
	go c.ReadPump()
}
