package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mcdev12/reflex/go/internal/coordinator"
	"github.com/rs/zerolog/log"
)

// Coordinator is the room logic the handler dispatches to.
type Coordinator interface {
	Join(ctx context.Context, connID, roomID, username string) error
	Start(ctx context.Context, connID, roomID string) error
	SubmitScore(ctx context.Context, connID, roomID string, score float64) error
	Leave(ctx context.Context, connID, roomID string) error
	Disconnect(ctx context.Context, connID string) error
	Stats(ctx context.Context) (rooms, members int, err error)
}

// WebSocketHandler upgrades game connections and routes their messages to the
// coordinator.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	coordinator       Coordinator
	observer          ConnectionObserver
	requestTimeout    time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, coord Coordinator) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		coordinator:       coord,
		observer:          cm.observer,
		requestTimeout:    5 * time.Second,
	}
}

// HandleConnection upgrades a game connection.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.connectionManager.UpgradeConnection(w, r, h); err != nil {
		// The upgrader has already written an HTTP error response.
		log.Warn().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Str("origin", r.Header.Get("Origin")).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleMessage implements Dispatcher.
func (h *WebSocketHandler) HandleMessage(c *Connection, raw []byte) {
	msgType, data, err := decodeClientMessage(raw)
	if err != nil {
		h.observer.Ignored("decode", "malformed")
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("dropping client message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()

	switch d := data.(type) {
	case JoinGameData:
		err = h.coordinator.Join(ctx, c.ID, d.RoomID, d.Username)
	case StartGameData:
		err = h.coordinator.Start(ctx, c.ID, d.RoomID)
	case SubmitScoreData:
		err = h.coordinator.SubmitScore(ctx, c.ID, d.RoomID, *d.Score)
	case LeaveGameData:
		err = h.coordinator.Leave(ctx, c.ID, d.RoomID)
	}

	// Protocol violations were logged by the coordinator; only loop
	// failures are worth reporting here.
	if errors.Is(err, coordinator.ErrStopped) || errors.Is(err, context.DeadlineExceeded) {
		log.Error().
			Err(err).
			Str("connection_id", c.ID).
			Str("type", string(msgType)).
			Msg("coordinator unavailable")
	}
}

// HandleClose implements Dispatcher.
func (h *WebSocketHandler) HandleClose(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()

	if err := h.coordinator.Disconnect(ctx, c.ID); err != nil && !errors.Is(err, coordinator.ErrStopped) {
		log.Error().
			Err(err).
			Str("connection_id", c.ID).
			Msg("failed to process disconnect")
	}
}

// ConnectionStats is served by /ws/stats.
type ConnectionStats struct {
	TotalConnections int `json:"total_connections"`
	ActiveRooms      int `json:"active_rooms"`
	RoomMembers      int `json:"room_members"`
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	rooms, members, err := h.coordinator.Stats(ctx)
	if err != nil {
		http.Error(w, "coordinator unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ConnectionStats{
		TotalConnections: h.connectionManager.Count(),
		ActiveRooms:      rooms,
		RoomMembers:      members,
	})
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
