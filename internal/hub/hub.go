// Package hub provides connection management for WebSocket clients.
//
// Dashboard connections subscribe to a topic ("a2a" or "fleet") and
// receive every broadcast for it. Robot uplink connections additionally
// bind a robot ID so commands can be dispatched to one robot.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/robofleet/robofleet/internal/metrics"
)

// Topics served by the hub.
const (
	TopicA2A   = "a2a"
	TopicFleet = "fleet"
	TopicRobot = "robot"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// ErrRobotNotConnected is returned when dispatching to a robot with no
// active uplink.
var ErrRobotNotConnected = errors.New("robot not connected")

// Connection represents a single WebSocket connection.
type Connection struct {
	ID      string
	Topic   string
	RobotID string // set for bound robot uplinks
	Conn    *websocket.Conn
	Send    chan []byte
	hub     *Hub
	mu      sync.Mutex
}

// topicMessage is a broadcast to every subscriber of a topic.
type topicMessage struct {
	topic string
	data  []byte
}

// Hub manages all WebSocket connections.
type Hub struct {
	// connections indexed by connection ID
	connections map[string]*Connection

	// topics maps a topic to the set of subscribed connection IDs
	topics map[string]map[string]bool

	// robots maps a robot ID to its uplink connection ID
	robots map[string]string

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *topicMessage

	mu sync.RWMutex
}

func New() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		topics:      make(map[string]map[string]bool),
		robots:      make(map[string]string),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *topicMessage, 256),
	}
}

// Run starts the hub's main loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.topics[conn.Topic] == nil {
				h.topics[conn.Topic] = make(map[string]bool)
			}
			h.topics[conn.Topic][conn.ID] = true
			h.mu.Unlock()
			metrics.WSConnections.WithLabelValues(conn.Topic).Inc()
			slog.Debug("hub: connection registered", "conn", conn.ID, "topic", conn.Topic)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if h.topics[conn.Topic] != nil {
					delete(h.topics[conn.Topic], conn.ID)
					if len(h.topics[conn.Topic]) == 0 {
						delete(h.topics, conn.Topic)
					}
				}
				if conn.RobotID != "" && h.robots[conn.RobotID] == conn.ID {
					delete(h.robots, conn.RobotID)
				}
				close(conn.Send)
				metrics.WSConnections.WithLabelValues(conn.Topic).Dec()
			}
			h.mu.Unlock()
			slog.Debug("hub: connection unregistered", "conn", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.topics[msg.topic] {
				conn, exists := h.connections[connID]
				if !exists {
					continue
				}
				select {
				case conn.Send <- msg.data:
				default:
					// Buffer full, drop the connection
					slog.Warn("hub: send buffer full, closing", "conn", connID)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection wraps a WebSocket in a Connection for the given topic.
// The caller must Register it.
func (h *Hub) NewConnection(ws *websocket.Conn, topic string) *Connection {
	return &Connection{
		ID:    uuid.New().String(),
		Topic: topic,
		Conn:  ws,
		Send:  make(chan []byte, 256),
		hub:   h,
	}
}

func (h *Hub) Register(conn *Connection)   { h.register <- conn }
func (h *Hub) Unregister(conn *Connection) { h.unregister <- conn }

// BindRobot binds a robot uplink connection to its robot ID after the
// hello handshake. A newer uplink for the same robot replaces the old
// binding.
func (h *Hub) BindRobot(conn *Connection, robotID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn.RobotID != "" && h.robots[conn.RobotID] == conn.ID {
		delete(h.robots, conn.RobotID)
	}
	conn.RobotID = robotID
	h.robots[robotID] = conn.ID
}

// Broadcast sends a message to every subscriber of a topic.
func (h *Hub) Broadcast(topic string, data []byte) {
	h.broadcast <- &topicMessage{topic: topic, data: data}
}

// BroadcastJSON sends a JSON message to every subscriber of a topic.
func (h *Hub) BroadcastJSON(topic string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(topic, data)
	return nil
}

// SendToRobot delivers a message to one robot's uplink connection.
func (h *Hub) SendToRobot(robotID string, data []byte) error {
	h.mu.RLock()
	connID, ok := h.robots[robotID]
	conn := h.connections[connID]
	h.mu.RUnlock()

	if !ok || conn == nil {
		return ErrRobotNotConnected
	}
	return h.SendToConnection(conn, data)
}

// SendJSONToRobot delivers a JSON message to one robot's uplink.
func (h *Hub) SendJSONToRobot(robotID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToRobot(robotID, data)
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// RobotConnected reports whether a robot has an active uplink.
func (h *Hub) RobotConnected(robotID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.robots[robotID]
	return ok
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// SubscriberCount returns the number of subscribers to a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying WebSocket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
