package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Notification represents a message sent over WebSocket
type Notification struct {
	Type    string      `json:"type"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	UserID  string      `json:"userID,omitempty"`
}

// Client represents a connected WebSocket session
type Client struct {
	UserID primitive.ObjectID
	Conn   *websocket.Conn
	mu     sync.Mutex
}

// WriteJSON serialises writes; gorilla connections allow one writer at a time.
func (c *Client) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

// Hub maintains the set of live sessions of this instance, several per user
type Hub struct {
	clients    map[primitive.ObjectID]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[primitive.ObjectID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's event loop and closes every session when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			sessions, ok := h.clients[client.UserID]
			if !ok {
				sessions = make(map[*Client]bool)
				h.clients[client.UserID] = sessions
			}
			sessions[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if sessions, ok := h.clients[client.UserID]; ok {
				delete(sessions, client)
				if len(sessions) == 0 {
					delete(h.clients, client.UserID)
				}
			}
			h.mu.Unlock()
			client.Conn.Close()
		case <-ctx.Done():
			h.mu.Lock()
			for _, sessions := range h.clients {
				for client := range sessions {
					client.Conn.Close()
				}
			}
			h.clients = make(map[primitive.ObjectID]map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Connected reports how many sessions the user has on this instance.
func (h *Hub) Connected(userID primitive.ObjectID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// PushToUser sends the event to every session of the user on this instance. It is a
// no-op when the user has none. A failed session is dropped; the others still receive it.
func (h *Hub) PushToUser(ctx context.Context, userID primitive.ObjectID, event string, payload interface{}) error {
	h.mu.RLock()
	sessions := make([]*Client, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		sessions = append(sessions, client)
	}
	h.mu.RUnlock()

	msg := Notification{Type: event, Data: payload, UserID: userID.Hex()}
	for _, client := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := client.WriteJSON(msg); err != nil {
			h.logger.Debug("dropping websocket session after failed write",
				zap.String("userId", userID.Hex()),
				zap.Error(err))
			go h.drop(client)
		}
	}
	return nil
}

func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Conn.Close()
	}
}
