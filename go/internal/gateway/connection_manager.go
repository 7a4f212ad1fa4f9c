package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// TopicHooks are called when a topic gains its first connection and loses its last.
// They run with the manager lock held and must not call back into the manager.
type TopicHooks struct {
	Opened func(topic string)
	Closed func(topic string)
}

// ConnectionManager manages WebSocket connections grouped by topic
type ConnectionManager struct {
	topics    map[string]map[*Connection]bool
	lastFrame map[string][]byte
	mu        sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	hooks    TopicHooks

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Topic   string
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
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is an encoded frame for every connection on a topic
type BroadcastMessage struct {
	Topic string
	Data  []byte
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, hooks TopicHooks) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 64
	}
	return &ConnectionManager{
		topics:    make(map[string]map[*Connection]bool),
		lastFrame: make(map[string][]byte),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		hooks:       hooks,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcasts until ctx is done, then closes every connection.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			cm.closeAll()
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and joins it to topic
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, topic string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.NewString(),
		Topic:       topic,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("topic", topic).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection and queues the topic's latest frame for it
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.topics[conn.Topic]
	if !exists {
		connections = make(map[*Connection]bool)
		cm.topics[conn.Topic] = connections
	}
	connections[conn] = true

	if frame, ok := cm.lastFrame[conn.Topic]; ok {
		conn.Send <- frame
	}
	if !exists && cm.hooks.Opened != nil {
		cm.hooks.Opened(conn.Topic)
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("topic", conn.Topic).
		Int("topic_connections", len(connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.removeLocked(conn)
}

func (cm *ConnectionManager) removeLocked(conn *Connection) {
	connections, exists := cm.topics[conn.Topic]
	if !exists || !connections[conn] {
		return
	}

	delete(connections, conn)
	close(conn.Send)

	if len(connections) == 0 {
		delete(cm.topics, conn.Topic)
		delete(cm.lastFrame, conn.Topic)
		if cm.hooks.Closed != nil {
			cm.hooks.Closed(conn.Topic)
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("topic", conn.Topic).
		Msg("connection unregistered")
}

// Broadcast queues data for every connection on topic
func (cm *ConnectionManager) Broadcast(topic string, data []byte) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Topic: topic, Data: data}:
	default:
		log.Warn().Str("topic", topic).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast delivers a message, closing connections that cannot keep up
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	var slow []*Connection

	cm.mu.Lock()
	connections, exists := cm.topics[message.Topic]
	if !exists {
		cm.mu.Unlock()
		return
	}
	cm.lastFrame[message.Topic] = message.Data

	for conn := range connections {
		select {
		case conn.Send <- message.Data:
		default:
			slow = append(slow, conn)
		}
	}
	delivered := len(connections) - len(slow)

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("topic", conn.Topic).
			Msg("connection send buffer full, closing connection")
		cm.removeLocked(conn)
	}
	cm.mu.Unlock()

	for _, conn := range slow {
		conn.Conn.Close()
	}

	log.Debug().
		Str("topic", message.Topic).
		Int("connections", delivered).
		Msg("frame broadcasted")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	var all []*Connection
	for _, connections := range cm.topics {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	for _, conn := range all {
		cm.removeLocked(conn)
	}
	cm.mu.Unlock()
}

// ConnectionStats summarises active connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveTopics     int            `json:"active_topics"`
	Topics           map[string]int `json:"topics"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveTopics: len(cm.topics),
		Topics:       make(map[string]int, len(cm.topics)),
	}
	for topic, connections := range cm.topics {
		stats.TotalConnections += len(connections)
		stats.Topics[topic] = len(connections)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
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
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
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
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		// The stream is one-way; client frames are only logged.
		log.Debug().
			Str("connection_id", c.ID).
			Int("bytes", len(message)).
			Msg("ignoring client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
