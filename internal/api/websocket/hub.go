package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking
		return true
	},
}

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TaskProgressPayload reports progress of a running pipeline task
type TaskProgressPayload struct {
	TaskID   string  `json:"taskId"`
	Progress float64 `json:"progress"`
	Stage    string  `json:"stage,omitempty"`
}

// TaskCompletedPayload reports a finished task and its result reference
type TaskCompletedPayload struct {
	TaskID string      `json:"taskId"`
	Result interface{} `json:"result,omitempty"`
}

// TaskFailedPayload reports a task failure
type TaskFailedPayload struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

// TaskCancelledPayload confirms a cancellation took effect
type TaskCancelledPayload struct {
	TaskID string `json:"taskId"`
}

// Client represents a WebSocket client
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub manages WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client connected", zap.Int("total_clients", len(h.clients)))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", zap.Int("total_clients", len(h.clients)))

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleConnection handles a new WebSocket connection
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// SendToTask sends a message to all clients subscribed to a task
func (h *Hub) SendToTask(taskID string, msgType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := Message{
		Type:    msgType,
		Payload: data,
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.mu.RLock()
		subscribed := client.subscriptions[taskID]
		client.mu.RUnlock()

		if subscribed {
			select {
			case client.send <- msgBytes:
			default:
				// Client buffer full, skip
			}
		}
	}

	return nil
}

// BroadcastTaskProgress sends a progress update
func (h *Hub) BroadcastTaskProgress(taskID string, progress float64, stage string) {
	h.SendToTask(taskID, "task:progress", TaskProgressPayload{
		TaskID:   taskID,
		Progress: progress,
		Stage:    stage,
	})
}

// BroadcastTaskCompleted sends a completion notification
func (h *Hub) BroadcastTaskCompleted(taskID string, result interface{}) {
	h.SendToTask(taskID, "task:completed", TaskCompletedPayload{
		TaskID: taskID,
		Result: result,
	})
}

// BroadcastTaskFailed sends a failure notification
func (h *Hub) BroadcastTaskFailed(taskID, errorMsg string) {
	h.SendToTask(taskID, "task:failed", TaskFailedPayload{
		TaskID: taskID,
		Error:  errorMsg,
	})
}

// BroadcastTaskCancelled confirms a cancellation
func (h *Hub) BroadcastTaskCancelled(taskID string) {
	h.SendToTask(taskID, "task:cancelled", TaskCancelledPayload{
		TaskID: taskID,
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.hub.logger.Error("WebSocket write error", zap.Error(err))
			return
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "subscribe":
		var payload struct {
			TaskID string `json:"taskId"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			c.mu.Lock()
			c.subscriptions[payload.TaskID] = true
			c.mu.Unlock()
			c.hub.logger.Debug("Client subscribed to task", zap.String("task_id", payload.TaskID))
		}

	case "unsubscribe":
		var payload struct {
			TaskID string `json:"taskId"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			c.mu.Lock()
			delete(c.subscriptions, payload.TaskID)
			c.mu.Unlock()
			c.hub.logger.Debug("Client unsubscribed from task", zap.String("task_id", payload.TaskID))
		}

	case "ping":
		response, _ := json.Marshal(Message{Type: "pong"})
		c.send <- response
	}
}
