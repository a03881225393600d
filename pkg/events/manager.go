package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// DefaultWriteTimeout bounds a single WebSocket send. A client that cannot
// drain a frame within this window is treated as gone.
const DefaultWriteTimeout = 10 * time.Second

// ConnectionManager multiplexes hub topics over WebSocket connections.
// Each connection picks its topics with subscribe/unsubscribe messages and
// receives the same event payloads the SSE endpoints serve, ring replay
// included.
type ConnectionManager struct {
	hub *Hub

	// Active connections: connection id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed WITHOUT a lock. This is safe because all reads
// and writes (subscribe, unsubscribe, unregisterConnection) happen on the
// single goroutine that owns this connection (HandleConnection's read loop
// and its deferred cleanup). Delivery pumps only touch their own
// Subscriber.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[Topic]*Subscriber
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a ConnectionManager over the given hub.
func NewConnectionManager(hub *Hub, writeTimeout time.Duration) *ConnectionManager {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &ConnectionManager{
		hub:          hub,
		connections:  make(map[string]*Connection),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[Topic]*Subscriber),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	// Send connection established message
	m.sendJSON(c, map[string]string{
		"type":         "connection.established",
		"connectionId": connID,
	})

	// Read loop — process client messages until connection closes
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(c, &msg)
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// handleClientMessage dispatches a client message to the appropriate handler.
func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Topic == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "topic is required for subscribe"})
			return
		}
		sub, err := m.subscribe(c, Topic(msg.Topic))
		if err != nil {
			m.sendJSON(c, map[string]string{
				"type":    "subscription.error",
				"topic":   msg.Topic,
				"message": err.Error(),
			})
			return
		}
		m.sendJSON(c, map[string]string{
			"type":  "subscription.confirmed",
			"topic": msg.Topic,
		})
		// The pump starts only after the confirmation is on the wire, so
		// clients always observe confirmed before any replayed event.
		if sub != nil {
			go m.pump(c, sub)
		}

	case "unsubscribe":
		if msg.Topic == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "topic is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, Topic(msg.Topic))

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe attaches the connection to a hub topic and returns the new
// subscriber, or nil when the connection is already subscribed. Ring replay
// is queued by the hub before any live event, so the client observes
// history strictly before new publishes once the pump runs.
func (m *ConnectionManager) subscribe(c *Connection, topic Topic) (*Subscriber, error) {
	if _, exists := c.subscriptions[topic]; exists {
		return nil, nil
	}
	sub, err := m.hub.Subscribe(topic)
	if err != nil {
		return nil, err
	}
	c.subscriptions[topic] = sub
	return sub, nil
}

// unsubscribe detaches the connection from a topic. The pump exits when the
// subscriber closes.
func (m *ConnectionManager) unsubscribe(c *Connection, topic Topic) {
	if sub, exists := c.subscriptions[topic]; exists {
		delete(c.subscriptions, topic)
		sub.Close()
	}
}

// pump forwards one subscriber's events to the connection until the
// subscriber closes, the connection context ends, or a write fails. Writes
// interleave safely with other pumps and the read loop's control replies;
// the websocket library serializes concurrent writers.
func (m *ConnectionManager) pump(c *Connection, sub *Subscriber) {
	for {
		data, err := sub.Receive(c.ctx)
		if err != nil {
			return
		}
		if err := m.sendRaw(c, data); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", c.ID, "topic", sub.Topic(), "error", err)
			return
		}
	}
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and closes all its subscriptions.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for topic := range c.subscriptions {
		m.unsubscribe(c, topic)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
