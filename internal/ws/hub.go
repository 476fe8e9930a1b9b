package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/sortline/internal/compute"
	"github.com/obsidianstack/sortline/internal/conveyor"
	"github.com/obsidianstack/sortline/internal/notify"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 32

	// queueSize is the hub-wide pending broadcast depth.
	queueSize = 64
)

// Event names carried in Message.Event.
const (
	EventSnapshot = "snapshot"
	EventStage    = "stage"
	EventStatus   = "status"
	EventToast    = "toast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Toast is the data of a toast message.
type Toast struct {
	Message  string          `json:"message"`
	Severity notify.Severity `json:"severity"`
}

// Hub fans dashboard snapshots, run stages, status changes and toasts out to
// every connected client. New clients get the latest snapshot and status.
type Hub struct {
	queue chan []byte

	mu         sync.RWMutex
	clients    map[*client]struct{}
	lastSnap   []byte
	lastStatus []byte
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates an idle Hub. Run must be running for broadcasts to flow.
func New() *Hub {
	return &Hub{
		queue:   make(chan []byte, queueSize),
		clients: make(map[*client]struct{}),
	}
}

// Run fans queued messages out to clients. It blocks until ctx is cancelled,
// then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case data := <-h.queue:
			h.broadcast(data)
		}
	}
}

// Publish implements dashboard.Sink.
func (h *Hub) Publish(snap compute.Snapshot) {
	data, ok := h.encode(EventSnapshot, snap)
	if !ok {
		return
	}
	h.mu.Lock()
	h.lastSnap = data
	h.mu.Unlock()
	h.enqueue(data)
}

// Stage implements conveyor.Observer.
func (h *Hub) Stage(u conveyor.Update) {
	if data, ok := h.encode(EventStage, u); ok {
		h.enqueue(data)
	}
}

// Status implements conveyor.Observer.
func (h *Hub) Status(s conveyor.Status) {
	data, ok := h.encode(EventStatus, s)
	if !ok {
		return
	}
	h.mu.Lock()
	h.lastStatus = data
	h.mu.Unlock()
	h.enqueue(data)
}

// Notify implements notify.Notifier by pushing a toast.
func (h *Hub) Notify(message string, sev notify.Severity) {
	if data, ok := h.encode(EventToast, Toast{Message: message, Severity: sev}); ok {
		h.enqueue(data)
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The latest snapshot and status are sent immediately. Blocks until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}

	h.mu.Lock()
	for _, data := range [][]byte{h.lastSnap, h.lastStatus} {
		if data != nil {
			c.send <- data
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) encode(event string, v interface{}) ([]byte, bool) {
	data, err := json.Marshal(Message{Event: event, Data: v})
	if err != nil {
		slog.Error("ws: encode failed", "event", event, "err", err)
		return nil, false
	}
	return data, true
}

func (h *Hub) enqueue(data []byte) {
	select {
	case h.queue <- data:
	default:
		slog.Warn("ws: broadcast queue full, dropping message")
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Client's outgoing buffer is full; disconnect it.
			h.unregister(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames to process control messages (pong, close) and detect
// disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
