package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Hub delivers progress events to WebSocket clients grouped by job id.
type Hub struct {
	connections map[string]map[*Connection]bool
	broadcast   chan *broadcastMessage
	register    chan *Connection
	unregister  chan *Connection
	done        chan struct{}
	mu          sync.RWMutex

	upgrader websocket.Upgrader
}

// Connection is one WebSocket client watching a job.
type Connection struct {
	hub       *Hub
	conn      *websocket.Conn
	jobID     string
	userID    string
	send      chan []byte
	closeOnce sync.Once
}

type broadcastMessage struct {
	jobID   string
	message []byte
}

// clientMessage is what clients may send over the socket.
type clientMessage struct {
	Type  string `json:"type"`
	Since int64  `json:"since"`
}

// NewHub creates a hub. Origins lists the allowed browser origins; an empty
// list allows any origin.
func NewHub(origins []string) *Hub {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Hub{
		connections: make(map[string]map[*Connection]bool),
		broadcast:   make(chan *broadcastMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		done:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.connections[c.jobID] == nil {
				h.connections[c.jobID] = make(map[*Connection]bool)
			}
			h.connections[c.jobID][c] = true
			h.mu.Unlock()
			metrics.Get().RecordWebSocketConnection(1)
			logging.ForJob(c.jobID).Debug("progress client connected", zap.String("user_id", c.userID))

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			conns := make([]*Connection, 0, len(h.connections[msg.jobID]))
			for c := range h.connections[msg.jobID] {
				conns = append(conns, c)
			}
			h.mu.RUnlock()

			for _, c := range conns {
				select {
				case c.send <- msg.message:
					metrics.Get().RecordWebSocketMessage("progress", "sent")
				default:
					metrics.Get().RecordWebSocketMessage("progress", "dropped")
					h.remove(c)
				}
			}

		case <-ctx.Done():
			h.mu.Lock()
			for jobID, conns := range h.connections {
				for c := range conns {
					c.closeSend()
					metrics.Get().RecordWebSocketConnection(-1)
				}
				delete(h.connections, jobID)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.connections[c.jobID]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.connections, c.jobID)
	}
	c.closeSend()
	metrics.Get().RecordWebSocketConnection(-1)
	logging.ForJob(c.jobID).Debug("progress client disconnected", zap.String("user_id", c.userID))
}

// Emit broadcasts ev to the job's connections. It drops the event when the
// hub is stopped or its queue is full.
func (h *Hub) Emit(_ context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.L().Error("marshal progress event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- &broadcastMessage{jobID: ev.JobID, message: data}:
	case <-h.done:
	default:
		metrics.Get().RecordWebSocketMessage("progress", "dropped")
		logging.ForJob(ev.JobID).Warn("progress broadcast queue full, dropping event", zap.String("type", string(ev.Type)))
	}
}

// ConnectionCount returns the number of clients watching jobID.
func (h *Hub) ConnectionCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[jobID])
}

// Serve upgrades the request and attaches the client to jobID. backlog is
// sent before live events; replay serves resume requests from the client.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, jobID, userID string, backlog []Event, replay func(since int64) []Event) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Connection{
		hub:    h,
		conn:   ws,
		jobID:  jobID,
		userID: userID,
		send:   make(chan []byte, sendBuffer+len(backlog)),
	}

	c.enqueue(map[string]any{"type": "connected", "jobId": jobID, "timestamp": time.Now().UTC()})
	for _, ev := range backlog {
		c.enqueue(ev)
	}

	select {
	case h.register <- c:
	case <-h.done:
		ws.Close()
		return nil
	}

	go c.writePump()
	go c.readPump(replay)
	return nil
}

func (c *Connection) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	defer func() {
		// send may already be closed by the hub
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
		logging.ForJob(c.jobID).Warn("progress client buffer full, dropping message")
	}
}

func (c *Connection) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump(replay func(since int64) []Event) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.ForJob(c.jobID).Warn("progress socket error", zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "resume":
			if replay != nil {
				for _, ev := range replay(msg.Since) {
					c.enqueue(ev)
				}
			}
		case "ping":
			c.enqueue(map[string]any{"type": "pong", "timestamp": time.Now().UTC()})
		}
	}
}
