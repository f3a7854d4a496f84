package signalclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChilliRoger/den-day/internal/logging"
	"github.com/ChilliRoger/den-day/internal/metrics"
	"github.com/ChilliRoger/den-day/internal/protocol"
	"github.com/ChilliRoger/den-day/internal/room"
	"github.com/ChilliRoger/den-day/internal/server"
	"github.com/ChilliRoger/den-day/internal/signaling"
)

func startServer(t *testing.T) (string, context.CancelFunc) {
	t.Helper()
	log := logging.Discard()
	hub := signaling.NewHub(room.NewRegistry[*signaling.Client](), metrics.New(), log, signaling.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	srv := httptest.NewServer(server.ServeWs(hub, []string{"*"}, log))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", cancel
}

func receive(t *testing.T, sub *Subscription) *protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestCreateAndJoinOverBothCodecs(t *testing.T) {
	url, _ := startServer(t)
	ctx := context.Background()

	host, err := Dial(ctx, url, Options{Codec: protocol.Msgpack, Log: logging.Discard()})
	require.NoError(t, err)
	defer host.Close()
	guest, err := Dial(ctx, url, Options{Codec: protocol.JSON, Log: logging.Discard()})
	require.NoError(t, err)
	defer guest.Close()

	hostEvents := NewHandler()
	go hostEvents.Run(host.Incoming())
	guestEvents := NewHandler()
	go guestEvents.Run(guest.Incoming())

	created := hostEvents.Subscribe(protocol.TypeRoomCreated)
	joinedNotice := hostEvents.Subscribe(protocol.TypeUserJoined)
	joined := guestEvents.Subscribe(protocol.TypeRoomJoined, protocol.TypeExistingParticipants)

	require.NoError(t, host.Send(&protocol.Message{
		Type: protocol.TypeCreateRoom, RoomCode: "PARTY1", UserID: "h", UserName: "Host", Topic: "Sam",
	}))
	msg := receive(t, created)
	assert.Equal(t, "PARTY1", msg.RoomCode)
	require.NotNil(t, msg.RoomInfo)
	assert.Equal(t, "Sam", msg.RoomInfo.Topic)

	require.NoError(t, guest.Send(&protocol.Message{
		Type: protocol.TypeJoinRoom, RoomCode: "PARTY1", UserID: "g", UserName: "Guest",
	}))
	msg = receive(t, joined)
	assert.Equal(t, protocol.TypeRoomJoined, msg.Type)
	assert.Equal(t, 2, msg.RoomInfo.ParticipantCount)
	msg = receive(t, joined)
	assert.Equal(t, protocol.TypeExistingParticipants, msg.Type)
	require.Len(t, msg.Participants, 1)
	assert.Equal(t, "h", msg.Participants[0].UserID)

	msg = receive(t, joinedNotice)
	assert.Equal(t, "g", msg.UserID)
	assert.Equal(t, "Guest", msg.UserName)
}

func TestServerErrorDelivered(t *testing.T) {
	url, _ := startServer(t)

	c, err := Dial(context.Background(), url, Options{Log: logging.Discard()})
	require.NoError(t, err)
	defer c.Close()

	h := NewHandler()
	go h.Run(c.Incoming())
	errs := h.Subscribe(protocol.TypeError)

	require.NoError(t, c.Send(&protocol.Message{Type: protocol.TypeJoinRoom, RoomCode: "NOPE99", UserID: "g"}))
	msg := receive(t, errs)
	require.NotNil(t, msg.Error)
	assert.Equal(t, protocol.CodeRoomNotFound, msg.Error.Code)
}

func TestCloseIsIdempotent(t *testing.T) {
	url, _ := startServer(t)

	c, err := Dial(context.Background(), url, Options{Log: logging.Discard()})
	require.NoError(t, err)

	c.Close()
	c.Close()

	assert.ErrorIs(t, c.Send(&protocol.Message{Type: protocol.TypeLeaveRoom}), ErrClosed)
	select {
	case _, ok := <-c.Incoming():
		for ok {
			_, ok = <-c.Incoming()
		}
	case <-time.After(3 * time.Second):
		t.Fatal("incoming never closed")
	}
}

func TestServerShutdownClosesIncoming(t *testing.T) {
	url, stop := startServer(t)

	c, err := Dial(context.Background(), url, Options{Log: logging.Discard()})
	require.NoError(t, err)
	defer c.Close()

	h := NewHandler()
	all := h.Subscribe()
	go h.Run(c.Incoming())

	stop()

	select {
	case _, ok := <-all.C:
		for ok {
			_, ok = <-all.C
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscription never closed")
	}
	assert.Error(t, c.Err())
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", Options{Log: logging.Discard()})
	assert.Error(t, err)

	_, err = Dial(ctx, "://bad", Options{})
	assert.Error(t, err)
}
