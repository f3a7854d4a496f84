package signalclient

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChilliRoger/den-day/internal/protocol"
)

func TestHandlerFanOut(t *testing.T) {
	h := NewHandler()
	defer h.Close()

	chatA := h.Subscribe(protocol.TypeChatMessage)
	chatB := h.Subscribe(protocol.TypeChatMessage)
	cake := h.Subscribe(protocol.TypeCakeCuttingStarted)
	all := h.Subscribe()

	h.Dispatch(&protocol.Message{Type: protocol.TypeChatMessage})
	h.Dispatch(&protocol.Message{Type: protocol.TypeCakeCuttingStarted})

	assert.Len(t, chatA.C, 1)
	assert.Len(t, chatB.C, 1)
	assert.Len(t, cake.C, 1)
	assert.Len(t, all.C, 2)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	h := NewHandler()
	defer h.Close()

	a := h.Subscribe(protocol.TypeUserLeft)
	b := h.Subscribe(protocol.TypeUserLeft)
	a.Close()
	a.Close()

	h.Dispatch(&protocol.Message{Type: protocol.TypeUserLeft})

	_, ok := <-a.C
	assert.False(t, ok)
	assert.Len(t, b.C, 1)
}

func TestDispatchWaitsForSlowSubscriber(t *testing.T) {
	h := NewHandler()
	defer h.Close()
	sub := h.SubscribeBuffered(0, protocol.TypeOffer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 3 {
			h.Dispatch(&protocol.Message{Type: protocol.TypeOffer})
		}
	}()

	for range 3 {
		select {
		case msg := <-sub.C:
			assert.Equal(t, protocol.TypeOffer, msg.Type)
		case <-time.After(time.Second):
			t.Fatal("offer lost")
		}
	}
	<-done
}

func TestBlockedDispatchReleasedByClose(t *testing.T) {
	h := NewHandler()
	sub := h.SubscribeBuffered(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Dispatch(&protocol.Message{Type: protocol.TypeOffer})
	}()

	sub.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch stuck on a closed subscription")
	}
	h.Close()
}

func TestHandlerCloseEndsSubscriptions(t *testing.T) {
	h := NewHandler()
	subs := []*Subscription{h.Subscribe(), h.Subscribe(protocol.TypeError)}

	in := make(chan *protocol.Message)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.Run(in)
	}()
	close(in)
	wg.Wait()

	for _, s := range subs {
		_, ok := <-s.C
		assert.False(t, ok)
		s.Close()
	}

	late := h.Subscribe()
	_, ok := <-late.C
	require.False(t, ok)
}
