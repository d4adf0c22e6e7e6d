package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ZerkerEOD/krakenwifi/internal/events"
	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4 * 1024

	sendBufferSize = 256
)

// Handler streams job events to WebSocket clients. It is an events.Publisher: the engine
// publishes into it and every subscribed client gets a copy.
type Handler struct {
	upgrader websocket.Upgrader
	clients  map[*Client]struct{}
	mu       sync.RWMutex
}

// Client represents a connected event subscriber
type Client struct {
	handler *Handler
	conn    *websocket.Conn
	send    chan *Message
	ctx     context.Context
	cancel  context.CancelFunc

	filterMu sync.RWMutex
	// empty means every job
	jobs map[string]bool
}

// NewHandler creates a new WebSocket handler. With no allowed origins any origin is accepted.
func NewHandler(allowedOrigins ...string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "" {
			allowed[o] = true
		}
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		clients: make(map[*Client]struct{}),
	}
}

// ServeWS upgrades the connection. An optional ?job= query parameter subscribes to one job.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Error("failed to upgrade connection: %v", err)
		return
	}

	// the request context ends with the handler, the client outlives it
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		handler: h,
		conn:    conn,
		send:    make(chan *Message, sendBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]bool),
	}
	if job := r.URL.Query().Get("job"); job != "" {
		client.jobs[job] = true
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	debug.Debug("event subscriber connected from %s", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// Publish delivers ev to every client subscribed to its job. Slow clients lose events rather
// than holding up the publisher.
func (h *Handler) Publish(_ context.Context, ev events.Event) {
	msg := eventMessage(ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(ev.JobID) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			debug.Warning("event subscriber send buffer full, dropping %s for job %s", ev.Type, ev.JobID)
		}
	}
}

// Clients returns the number of connected subscribers
func (h *Handler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.cancel()
		delete(h.clients, client)
	}
}

func (h *Handler) unregisterClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (c *Client) wants(jobID string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return len(c.jobs) == 0 || c.jobs[jobID]
}

// readPump handles subscription changes from the client
func (c *Client) readPump() {
	defer func() {
		c.handler.unregisterClient(c)
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				debug.Error("unexpected close error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			debug.Warning("failed to unmarshal subscriber message: %v", err)
			c.reply(errorMessage("invalid message"))
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *Message) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()

	switch msg.Type {
	case TypeSubscribe:
		if msg.JobID == "" {
			c.jobs = make(map[string]bool)
			return
		}
		c.jobs[msg.JobID] = true
	case TypeUnsubscribe:
		delete(c.jobs, msg.JobID)
	default:
		c.reply(errorMessage("unknown message type " + string(msg.Type)))
	}
}

func (c *Client) reply(msg *Message) {
	select {
	case c.send <- msg:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				debug.Debug("event subscriber write failed: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
