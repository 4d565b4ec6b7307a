package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/reflex/go/internal/room"
	"github.com/rs/zerolog/log"
)

// ConnectionObserver is told about connection lifecycle and dropped messages.
type ConnectionObserver interface {
	ConnectionOpened()
	ConnectionClosed()
	Ignored(op, reason string)
}

type noopObserver struct{}

func (noopObserver) ConnectionOpened()      {}
func (noopObserver) ConnectionClosed()      {}
func (noopObserver) Ignored(string, string) {}

// Dispatcher receives what a connection reads.
type Dispatcher interface {
	HandleMessage(c *Connection, raw []byte)
	HandleClose(c *Connection)
}

// ConnectionManager owns every websocket connection and delivers room events
// to them. It implements room.Broadcaster.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	observer ConnectionObserver
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	AllowedOrigins  []string
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024, // 1KB max message size
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		AllowedOrigins:  []string{"*"},
	}
}

// NewConnectionManager creates a new WebSocket connection manager. observer
// may be nil.
func NewConnectionManager(config ConnectionConfig, observer ConnectionObserver) *ConnectionManager {
	if observer == nil {
		observer = noopObserver{}
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConnectionConfig().SendBufferSize
	}

	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     originChecker(config.AllowedOrigins),
		},
		config:   config,
		observer: observer,
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients), any origin when the list is empty or holds "*", and otherwise
// only exact matches.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket, greets it with
// its player id and starts its pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, dispatcher Dispatcher) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)
	cm.SendTo(connection.ID, ServerEvent{
		ID:        uuid.New().String(),
		Type:      EventTypeConnected,
		Timestamp: connection.ConnectedAt.UTC(),
		Data:      ConnectedPayload{PlayerID: connection.ID},
	})

	go connection.writePump()
	go connection.readPump(dispatcher)

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	cm.connections[conn.ID] = conn
	total := len(cm.connections)
	cm.mu.Unlock()

	cm.observer.ConnectionOpened()
	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes a connection and closes its send channel.
// Safe to call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	current, exists := cm.connections[conn.ID]
	if !exists || current != conn {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, conn.ID)
	close(conn.Send)
	cm.mu.Unlock()

	cm.observer.ConnectionClosed()
	log.Info().
		Str("connection_id", conn.ID).
		Dur("connected_for", time.Since(conn.ConnectedAt)).
		Msg("connection unregistered")
}

// Broadcast implements room.Broadcaster. The envelope is marshalled once and
// queued on every recipient's send buffer; recipients whose buffer is full
// are disconnected.
func (cm *ConnectionManager) Broadcast(recipients []string, event room.Event) {
	eventData, err := json.Marshal(ServerEvent{
		ID:        uuid.New().String(),
		Type:      string(event.Type),
		RoomID:    event.RoomID,
		Timestamp: event.At.UTC(),
		Data:      event.Payload,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	delivered, slow := cm.enqueue(recipients, eventData)
	cm.closeSlow(slow)

	log.Debug().
		Str("event_type", string(event.Type)).
		Str("room_id", event.RoomID).
		Int("recipients", len(recipients)).
		Int("delivered", delivered).
		Msg("event broadcasted")
}

// SendTo queues a single event for one connection.
func (cm *ConnectionManager) SendTo(connID string, event ServerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("connection_id", connID).Msg("failed to marshal event")
		return
	}
	_, slow := cm.enqueue([]string{connID}, data)
	cm.closeSlow(slow)
}

// enqueue holds the read lock while sending so no send channel can be closed
// underneath it.
func (cm *ConnectionManager) enqueue(connIDs []string, data []byte) (delivered int, slow []*Connection) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, id := range connIDs {
		conn, ok := cm.connections[id]
		if !ok {
			continue
		}
		select {
		case conn.Send <- data:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	return delivered, slow
}

func (cm *ConnectionManager) closeSlow(slow []*Connection) {
	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

// Count returns the number of open connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll closes every connection. Their read pumps report the disconnect.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		c.Conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		c.Conn.Close()
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection. When it
// exits the connection is gone and the dispatcher is told so.
func (c *Connection) readPump(dispatcher Dispatcher) {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
		dispatcher.HandleClose(c)
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		dispatcher.HandleMessage(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
