// Package signalclient is the terminal side of the signaling websocket.
package signalclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ChilliRoger/den-day/internal/dns"
	"github.com/ChilliRoger/den-day/internal/protocol"
	"github.com/ChilliRoger/den-day/internal/version"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClosed = errors.New("signaling connection closed")

type Options struct {
	// Codec defaults to msgpack.
	Codec protocol.Codec
	// NetDialContext defaults to dns.DialContext.
	NetDialContext func(ctx context.Context, network, addr string) (net.Conn, error)
	Log            *slog.Logger
}

// Client manages the websocket connection to the signaling server.
type Client struct {
	conn  *websocket.Conn
	codec protocol.Codec
	log   *slog.Logger

	incoming chan *protocol.Message
	outgoing chan *protocol.Message

	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	errMu   sync.Mutex
	readErr error
}

// Dial connects to serverURL and starts the pumps.
func Dial(ctx context.Context, serverURL string, opts Options) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	codec := opts.Codec
	if codec == nil {
		codec = protocol.Msgpack
	}
	dial := opts.NetDialContext
	if dial == nil {
		dial = dns.DialContext
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	dialer := websocket.Dialer{
		NetDialContext:   dial,
		HandshakeTimeout: 10 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	if codec.Binary() {
		// The server picks msgpack for CLI clients; text clients leave the hint off.
		q := u.Query()
		q.Set("client", protocol.ClientTypeCLI)
		u.RawQuery = q.Encode()
		dialer.Subprotocols = []string{protocol.SubprotocolMsgpack}
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:       conn,
		codec:      codec,
		log:        log.With("component", "signaling", "codec", codec.Name()),
		incoming:   make(chan *protocol.Message, 64),
		outgoing:   make(chan *protocol.Message, 64),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// readPump decodes frames by their type, so a server replying in either
// codec is understood.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}

		codec := protocol.JSON
		if frameType == websocket.BinaryMessage {
			codec = protocol.Msgpack
		}

		var msg protocol.Message
		if err := codec.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.log.Warn("Dropping malformed message", "error", err)
			continue
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case msg := <-c.outgoing:
			data, err := c.codec.Marshal(msg)
			if err != nil {
				c.log.Error("Failed to encode message", "type", msg.Type, "error", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				c.setErr(err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.setErr(err)
				return
			}

		case <-c.done:
			c.flush(frameType)
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes what is already queued, typically a leave-room.
func (c *Client) flush(frameType int) {
	for {
		select {
		case msg := <-c.outgoing:
			data, err := c.codec.Marshal(msg)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues msg for the server.
func (c *Client) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	case <-c.writerDone:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.writerDone:
		return ErrClosed
	}
}

// Incoming is closed when the connection ends.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

// Close flushes queued messages, says goodbye and closes the connection.
// Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.writerDone
	})
}
