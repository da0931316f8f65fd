package game

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const (
	BROADCAST_BUFFER = 256
	CLIENT_BUFFER    = 64
	WRITE_TIMEOUT    = 10 * time.Second
)

// Conn is the write side of a websocket connection.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// TextMessage matches the websocket text frame opcode.
const TextMessage = 1

type Client struct {
	conn    Conn
	userID  string
	tableID string
	outbox  chan []byte
	done    chan struct{}
	mu      sync.Mutex
}

func newClient(conn Conn, userID, tableID string) *Client {
	return &Client{
		conn:    conn,
		userID:  userID,
		tableID: tableID,
		outbox:  make(chan []byte, CLIENT_BUFFER),
		done:    make(chan struct{}),
	}
}

type tableMessage struct {
	tableID string
	payload any
}

// Hub fans table events out to the websocket clients watching that table.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan tableMessage
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	logger     *slog.Logger
	mu         sync.RWMutex
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan tableMessage, BROADCAST_BUFFER),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.done)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "user", client.userID, "table", client.tableID, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.done)
				client.conn.Close()
				h.logger.Info("client disconnected", "user", client.userID, "table", client.tableID, "total", len(h.clients))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg.payload)
			if err != nil {
				h.logger.Error("marshal broadcast", "err", err)
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				if client.tableID == msg.tableID && !client.enqueue(data) {
					h.logger.Warn("client outbox full, dropping message", "user", client.userID, "table", client.tableID)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}

// Broadcast queues a message for a table without blocking the caller; it
// drops the message when the buffer is full.
func (h *Hub) Broadcast(tableID string, message any) bool {
	select {
	case h.broadcast <- tableMessage{tableID: tableID, payload: message}:
		return true
	default:
		h.logger.Warn("broadcast channel full, dropping message", "table", tableID)
		return false
	}
}

// Publish wraps a controller event into the websocket envelope.
func (h *Hub) Publish(tableID string, e Event) bool {
	return h.Broadcast(tableID, WSMessage{Type: string(e.Type()), TableID: tableID, Data: e})
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) TableClientCount(tableID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.tableID == tableID {
			n++
		}
	}
	return n
}

// writePump drains the outbox one frame at a time, so the client sees a
// table's messages in publish order.
func (c *Client) writePump() {
	for {
		select {
		case data := <-c.outbox:
			c.send(data)
		case <-c.done:
			return
		}
	}
}

func (c *Client) enqueue(data []byte) bool {
	select {
	case c.outbox <- data:
		return true
	default:
		return false
	}
}

func (c *Client) send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT))
	if err := c.conn.WriteMessage(TextMessage, data); err != nil {
		slog.Warn("websocket write failed", "user", c.userID, "err", err)
	}
}

// Send writes a message to this client only.
func (c *Client) Send(message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.send(data)
	return nil
}

func (h *Hub) RegisterClient(conn Conn, userID, tableID string) *Client {
	client := newClient(conn, userID, tableID)
	go client.writePump()
	h.register <- client
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}
