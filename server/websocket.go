package server

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebsocketMessage is an event pushed to clients.
type WebsocketMessage struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// WebsocketRequest is a request sent by a client.
type WebsocketRequest struct {
	ID      string         `json:"id,omitempty"` // Client-generated request ID
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// WebsocketResponse answers a WebsocketRequest.
type WebsocketResponse struct {
	ID      string `json:"id,omitempty"` // Same as request ID
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newMessage(messageType string, payload any) WebsocketMessage {
	return WebsocketMessage{
		ID:        uuid.NewString(),
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Client is one WebSocket connection. Writes are serialized so handler
// replies and broadcasts can share the connection.
type Client struct {
	ID   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send writes v as a JSON text frame.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) close() error { return c.conn.Close() }

// WebsocketClientManager tracks connected clients and fans out events.
type WebsocketClientManager struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *log.Logger
}

// NewClientManager creates an empty client manager.
func NewClientManager(logger *log.Logger) *WebsocketClientManager {
	return &WebsocketClientManager{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register adds conn under a fresh client ID.
func (cm *WebsocketClientManager) Register(conn *websocket.Conn) *Client {
	c := &Client{ID: uuid.NewString(), conn: conn}
	cm.mu.Lock()
	cm.clients[c.ID] = c
	cm.mu.Unlock()
	return c
}

// Unregister removes a client.
func (cm *WebsocketClientManager) Unregister(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, c.ID)
}

// Count returns the number of connected clients.
func (cm *WebsocketClientManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// CloseAll closes all client connections.
func (cm *WebsocketClientManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for id, c := range cm.clients {
		c.close()
		delete(cm.clients, id)
	}
}

// Broadcast sends message to every client. Clients that fail the write are
// closed and dropped.
func (cm *WebsocketClientManager) Broadcast(message WebsocketMessage) {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(message); err != nil {
			cm.logger.Printf("WebSocket write error for client %s: %v", c.ID, err)
			c.close()
			cm.Unregister(c)
		}
	}
}
