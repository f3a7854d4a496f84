package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ChilliRoger/den-day/internal/metrics"
	"github.com/ChilliRoger/den-day/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP with a full candidate set
)

// Client is a wrapper for a single websocket connection.
type Client struct {
	// ID identifies the connection in logs; it is not a participant id.
	ID string

	// ClientType is "cli" or "web", taken from the ?client= query parameter.
	ClientType string

	hub     *Hub
	conn    *websocket.Conn
	codec   protocol.Codec
	limiter *rate.Limiter
	log     *slog.Logger

	// send is a buffered channel for all outbound messages. WritePump is
	// its only reader.
	send    chan *protocol.Message
	closeMu sync.RWMutex
	closed  bool

	// The room and participant this connection speaks for. Empty until a
	// create-room or join-room succeeds.
	bindMu   sync.Mutex
	roomCode string
	userID   string
}

// NewClient wraps conn. codec decides how outbound messages are framed;
// inbound frames are decoded by their frame type.
func NewClient(hub *Hub, conn *websocket.Conn, clientType string, codec protocol.Codec) *Client {
	id := uuid.NewString()
	limit := hub.opts.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		ID:         id,
		ClientType: clientType,
		hub:        hub,
		conn:       conn,
		codec:      codec,
		limiter:    rate.NewLimiter(limit, hub.opts.RateBurst),
		log:        hub.log.With("conn", id),
		send:       make(chan *protocol.Message, hub.opts.SendBuffer),
	}
}

// Send queues msg for delivery without blocking. A client whose queue is full
// is too slow to keep up and gets disconnected.
func (c *Client) Send(msg *protocol.Message) bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		c.hub.metrics.Relayed(msg.Type)
		return true
	default:
		c.log.Warn("Send queue full, dropping client", "type", msg.Type)
		c.hub.metrics.Dropped(metrics.DropSlowClient)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		return false
	}
}

// closeSend stops WritePump. Safe to call more than once.
func (c *Client) closeSend() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) bind(code, userID string) {
	c.bindMu.Lock()
	c.roomCode, c.userID = code, userID
	c.bindMu.Unlock()
}

func (c *Client) identity() (code, userID string) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	return c.roomCode, c.userID
}

// unbind clears the binding and returns what it was.
func (c *Client) unbind() (code, userID string) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	code, userID = c.roomCode, c.userID
	c.roomCode, c.userID = "", ""
	return code, userID
}

// unbindIf clears the binding only if it still points at code.
func (c *Client) unbindIf(code string) {
	c.bindMu.Lock()
	if c.roomCode == code {
		c.roomCode, c.userID = "", ""
	}
	c.bindMu.Unlock()
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Unexpected close", "error", err)
			}
			return
		}

		codec := protocol.JSON
		if frameType == websocket.BinaryMessage {
			codec = protocol.Msgpack
		}

		var msg protocol.Message
		if err := codec.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.log.Warn("Dropping malformed message", "codec", codec.Name(), "error", err)
			c.hub.metrics.Dropped(metrics.DropMalformed)
			continue
		}

		if !c.limiter.Allow() {
			c.hub.metrics.Dropped(metrics.DropRateLimited)
			c.Send(protocol.NewError(protocol.CodeRateLimited, "Too many messages, slow down"))
			continue
		}

		c.hub.Handle(c, &msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := c.codec.Marshal(message)
			if err != nil {
				c.log.Error("Failed to encode message", "type", message.Type, "error", err)
				continue
			}
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				c.log.Debug("Write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
