package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Received("offer")
	m.Received("offer")
	m.Relayed("chat-message")
	m.Dropped(DropRateLimited)
	m.RoomsActive.Set(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesRelayed.WithLabelValues("chat-message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(DropRateLimited)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RoomsActive))
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RoomsSwept.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.RoomsSwept))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RoomsSwept))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Received("join-room")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `denday_messages_received_total{type="join-room"} 1`)
	assert.Contains(t, rr.Body.String(), "# TYPE denday_rooms_active gauge")
}
