package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus is the body of /health.
type HealthStatus struct {
	Healthy          bool      `json:"healthy"`
	CoordinatorAlive bool      `json:"coordinator_alive"`
	NATSEnabled      bool      `json:"nats_enabled"`
	NATSConnected    bool      `json:"nats_connected"`
	Connections      int       `json:"connections"`
	CheckedAt        time.Time `json:"checked_at"`
	Errors           []string  `json:"errors"`
}

// HealthHandler reports whether the coordinator loop and, when configured,
// the bus connection are up.
type HealthHandler struct {
	coordinatorAlive func() bool
	natsConnected    func() bool
	connections      *ConnectionManager
}

// NewHealthHandler builds the handler. natsConnected is nil when the bus is
// disabled.
func NewHealthHandler(coordinatorAlive, natsConnected func() bool, cm *ConnectionManager) *HealthHandler {
	return &HealthHandler{
		coordinatorAlive: coordinatorAlive,
		natsConnected:    natsConnected,
		connections:      cm,
	}
}

func (h *HealthHandler) Check() HealthStatus {
	status := HealthStatus{
		Healthy:   true,
		CheckedAt: time.Now().UTC(),
		Errors:    []string{},
	}

	status.CoordinatorAlive = h.coordinatorAlive()
	if !status.CoordinatorAlive {
		status.Healthy = false
		status.Errors = append(status.Errors, "coordinator not running")
	}

	if h.natsConnected != nil {
		status.NATSEnabled = true
		status.NATSConnected = h.natsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if h.connections != nil {
		status.Connections = h.connections.Count()
	}
	return status
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check()

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
