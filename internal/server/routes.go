package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/ChilliRoger/den-day/internal/metrics"
	"github.com/ChilliRoger/den-day/internal/protocol"
	"github.com/ChilliRoger/den-day/internal/room"
	"github.com/ChilliRoger/den-day/internal/signaling"
	"github.com/ChilliRoger/den-day/internal/version"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Hub            *signaling.Hub
	Metrics        *metrics.Metrics
	Log            *slog.Logger
	AllowedOrigins []string
	Started        time.Time
}

// NewRouter wires up all HTTP routes and middleware.
func NewRouter(d Deps) http.Handler {
	if d.Started.IsZero() {
		d.Started = time.Now()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", ServeWs(d.Hub, d.AllowedOrigins, d.Log))
	mux.Handle("GET /health", healthHandler(d.Hub, d.Started))
	mux.Handle("GET /room/{code}", roomHandler(d.Hub))
	mux.Handle("GET /metrics", d.Metrics.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}

// ServeWs returns an http.HandlerFunc that upgrades websocket requests and
// hands them to the hub. ?client=cli or the msgpack subprotocol selects
// binary msgpack frames.
func ServeWs(hub *signaling.Hub, allowedOrigins []string, log *slog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		Subprotocols:    []string{protocol.SubprotocolMsgpack},
		CheckOrigin:     checkOrigin(allowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("Failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
			return
		}

		clientType := r.URL.Query().Get("client")
		if clientType == "" {
			clientType = protocol.ClientTypeWeb
		}
		hub.Serve(conn, clientType, protocol.SelectCodec(clientType, conn.Subprotocol()))
	}
}

// checkOrigin admits requests without an Origin header (terminal clients),
// requests from an allowed origin, and everything when "*" is configured.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

type healthResponse struct {
	Status      string  `json:"status"`
	ActiveRooms int     `json:"activeRooms"`
	Uptime      float64 `json:"uptime"`
	Version     string  `json:"version"`
}

func healthHandler(hub *signaling.Hub, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status:      "ok",
			ActiveRooms: hub.Rooms().Len(),
			Uptime:      time.Since(started).Seconds(),
			Version:     version.Version,
		})
	}
}

func roomHandler(hub *signaling.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := hub.RoomInfo(r.PathValue("code"))
		if errors.Is(err, room.ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Room not found"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
