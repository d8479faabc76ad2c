package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leafsii/combined-position/internal/position"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Source is a stream of selection states, implemented by session.Session.
type Source interface {
	Snapshot() position.State
	Subscribe() (<-chan position.State, func())
}

// ConnMetrics counts open stream connections.
type ConnMetrics interface {
	IncrementConnections(ctx context.Context)
	DecrementConnections(ctx context.Context)
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// clientRequest is what clients may send over the socket.
type clientRequest struct {
	Type string `json:"type"`
}

// Hub tracks the open session streams so they can be closed on shutdown.
type Hub struct {
	logger   *zap.SugaredLogger
	metrics  ConnMetrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	topic  string
	source Source
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewHub builds a hub accepting the given origins. Same-origin requests
// (no Origin header) are always accepted; "*" accepts any origin.
func NewHub(allowedOrigins []string, logger *zap.SugaredLogger, metrics ConnMetrics) *Hub {
	h := &Hub{
		logger:  logger,
		metrics: metrics,
		clients: make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return originAllowed(allowedOrigins, r.Header.Get("Origin")) },
	}
	return h
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// Run blocks until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.logger.Infow("WebSocket hub shutting down")

	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.IncrementConnections(context.Background())
	}
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		if h.metrics != nil {
			h.metrics.DecrementConnections(context.Background())
		}
	}
}

// ServeSession upgrades the request and streams every state of source,
// starting with the current one.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, topic string, source Source) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		topic:  topic,
		source: source,
		send:   make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	if !h.register(client) {
		conn.Close()
		return
	}
	h.logger.Debugw("Client registered", "topic", topic)

	go client.writePump()
	go client.readPump()
}

func encode(msgType, topic string, st position.State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{
		Type:      msgType,
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.hub.unregister(c)
	})
}

func (c *Client) queue(msg []byte) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var req clientRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.hub.logger.Warnw("Invalid client message", "error", err)
		return
	}
	if req.Type == "refresh" {
		msg, err := encode("snapshot", c.topic, c.source.Snapshot())
		if err != nil {
			c.hub.logger.Errorw("Failed to marshal WebSocket message", "error", err)
			return
		}
		c.queue(msg)
	}
}

func (c *Client) writePump() {
	updates, cancel := c.source.Subscribe()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		c.conn.Close()
		c.close()
	}()

	if !c.writeState("snapshot", c.source.Snapshot()) {
		return
	}

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case st, ok := <-updates:
			if !ok {
				return
			}
			if !c.writeState("update", st) {
				return
			}

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeState(msgType string, st position.State) bool {
	msg, err := encode(msgType, c.topic, st)
	if err != nil {
		c.hub.logger.Errorw("Failed to marshal WebSocket message", "error", err)
		return true
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg) == nil
}
