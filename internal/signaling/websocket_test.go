package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ChilliRoger/den-day/internal/logging"
	"github.com/ChilliRoger/den-day/internal/metrics"
	"github.com/ChilliRoger/den-day/internal/protocol"
	"github.com/ChilliRoger/den-day/internal/room"
)

type wsPeer struct {
	t     *testing.T
	conn  *websocket.Conn
	codec protocol.Codec
}

func startServer(t *testing.T, opts Options) string {
	t.Helper()
	log := logging.Discard()
	hub := NewHub(room.NewRegistry[*Client](room.WithLogger(log)), metrics.New(), log, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	upgrader := websocket.Upgrader{Subprotocols: []string{protocol.SubprotocolMsgpack}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		clientType := r.URL.Query().Get("client")
		hub.Serve(conn, clientType, protocol.SelectCodec(clientType, conn.Subprotocol()))
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, clientType string) *wsPeer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?client="+clientType, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &wsPeer{t: t, conn: conn, codec: protocol.SelectCodec(clientType, "")}
}

func (p *wsPeer) send(msg *protocol.Message) {
	data, err := p.codec.Marshal(msg)
	require.NoError(p.t, err)
	frame := websocket.TextMessage
	if p.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	require.NoError(p.t, p.conn.WriteMessage(frame, data))
}

func (p *wsPeer) recv() *protocol.Message {
	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	frame, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err)

	if p.codec.Binary() {
		assert.Equal(p.t, websocket.BinaryMessage, frame)
	} else {
		assert.Equal(p.t, websocket.TextMessage, frame)
	}

	var msg protocol.Message
	require.NoError(p.t, p.codec.Unmarshal(data, &msg))
	return &msg
}

func TestWebsocketRelayAcrossCodecs(t *testing.T) {
	url := startServer(t, Options{})

	host := dial(t, url, protocol.ClientTypeCLI)
	guest := dial(t, url, protocol.ClientTypeWeb)

	host.send(&protocol.Message{Type: protocol.TypeCreateRoom, RoomCode: "PARTY1", UserID: "h", UserName: "Host", Topic: "Sam"})
	created := host.recv()
	require.Equal(t, protocol.TypeRoomCreated, created.Type)
	assert.Equal(t, "Sam", created.RoomInfo.Topic)

	guest.send(&protocol.Message{Type: protocol.TypeJoinRoom, RoomCode: "PARTY1", UserID: "g", UserName: "Guest"})
	joined := guest.recv()
	require.Equal(t, protocol.TypeRoomJoined, joined.Type)
	existing := guest.recv()
	require.Equal(t, protocol.TypeExistingParticipants, existing.Type)
	require.Len(t, existing.Participants, 1)
	assert.Equal(t, "h", existing.Participants[0].UserID)

	announce := host.recv()
	require.Equal(t, protocol.TypeUserJoined, announce.Type)
	assert.Equal(t, 2, announce.ParticipantCount)

	guest.send(&protocol.Message{
		Type:         protocol.TypeOffer,
		RoomCode:     "PARTY1",
		TargetUserID: "h",
		FromUserID:   "g",
		Signal:       &protocol.Signal{Type: protocol.SignalOffer, SDP: "v=0"},
	})
	got := host.recv()
	require.Equal(t, protocol.TypeOffer, got.Type)
	assert.Equal(t, "g", got.FromUserID)
	assert.Equal(t, "Guest", got.FromUserName)

	// Dropping the socket without leave-room still tears the guest down.
	require.NoError(t, guest.conn.Close())
	left := host.recv()
	require.Equal(t, protocol.TypeUserLeft, left.Type)
	assert.Equal(t, "g", left.UserID)
	assert.Equal(t, 1, left.ParticipantCount)
}

func TestWebsocketHostDisconnectClosesRoom(t *testing.T) {
	url := startServer(t, Options{})

	host := dial(t, url, protocol.ClientTypeWeb)
	g1 := dial(t, url, protocol.ClientTypeWeb)
	g2 := dial(t, url, protocol.ClientTypeCLI)

	host.send(&protocol.Message{Type: protocol.TypeCreateRoom, RoomCode: "PARTY2", UserID: "h", UserName: "Host"})
	host.recv()
	for i, g := range []*wsPeer{g1, g2} {
		id := []string{"g1", "g2"}[i]
		g.send(&protocol.Message{Type: protocol.TypeJoinRoom, RoomCode: "PARTY2", UserID: id, UserName: id})
		g.recv()
		g.recv()
	}
	// g1 sees g2 arrive.
	require.Equal(t, protocol.TypeUserJoined, g1.recv().Type)

	require.NoError(t, host.conn.Close())

	for _, g := range []*wsPeer{g1, g2} {
		closed := g.recv()
		require.Equal(t, protocol.TypeRoomClosed, closed.Type)
		assert.Equal(t, room.ReasonHostLeft, closed.Reason)
	}

	late := dial(t, url, protocol.ClientTypeWeb)
	late.send(&protocol.Message{Type: protocol.TypeJoinRoom, RoomCode: "PARTY2", UserID: "late"})
	resp := late.recv()
	require.Equal(t, protocol.TypeError, resp.Type)
	assert.Equal(t, protocol.CodeRoomNotFound, resp.Error.Code)
}

func TestWebsocketRateLimit(t *testing.T) {
	url := startServer(t, Options{RateLimit: rate.Every(time.Hour), RateBurst: 2})

	c := dial(t, url, protocol.ClientTypeWeb)
	c.send(&protocol.Message{Type: protocol.TypeCreateRoom, RoomCode: "PARTY3", UserID: "h"})
	require.Equal(t, protocol.TypeRoomCreated, c.recv().Type)

	c.send(&protocol.Message{Type: protocol.TypeChatMessage, Text: "one"})
	require.Equal(t, protocol.TypeChatMessage, c.recv().Type)

	c.send(&protocol.Message{Type: protocol.TypeChatMessage, Text: "two"})
	resp := c.recv()
	require.Equal(t, protocol.TypeError, resp.Type)
	assert.Equal(t, protocol.CodeRateLimited, resp.Error.Code)
}

func TestWebsocketMalformedFrameIsIgnored(t *testing.T) {
	url := startServer(t, Options{})

	c := dial(t, url, protocol.ClientTypeWeb)
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	c.send(&protocol.Message{Type: protocol.TypeCreateRoom, RoomCode: "PARTY4", UserID: "h"})
	assert.Equal(t, protocol.TypeRoomCreated, c.recv().Type)
}
