package exporter

import (
	"context"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/amdgpumon/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 16
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Client is one connected WebSocket consumer.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans out snapshot messages to WebSocket clients. A client whose send
// buffer is full is dropped rather than slowing the others.
type Hub struct {
	clients   map[string]*Client
	register  chan *Client
	broadcast chan []byte
	mu        sync.RWMutex
	logger    logger.Logger
	metrics   *Metrics
}

func NewHub(log logger.Logger, metrics *Metrics) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		register:  make(chan *Client),
		broadcast: make(chan []byte, sendBuffer),
		logger:    log,
		metrics:   metrics,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.updateGauge()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.ID] = c
			h.mu.Unlock()
			h.updateGauge()
			h.logger.Debug().Str("client", c.ID).Msg("WebSocket client connected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, id)
					h.logger.Debug().Str("client", id).Msg("Dropping slow WebSocket client")
				}
			}
			h.mu.Unlock()
			h.updateGauge()
		}
	}
}

// Publish queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Publish(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug().Msg("WebSocket broadcast queue full, dropping update")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		h.updateGauge()
		h.logger.Debug().Str("client", id).Msg("WebSocket client disconnected")
	}
}

func (h *Hub) updateGauge() {
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(h.ClientCount()))
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// serve upgrades the request and runs the client's pumps. initial, when not
// nil, is sent before any broadcast.
func (h *Hub) serve(ctx context.Context, w http.ResponseWriter, r *http.Request, initial []byte) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}
	if initial != nil {
		c.send <- initial
	}

	select {
	case h.register <- c:
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}

	go c.writePump()
	go c.readPump()

	return nil
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and detects disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c.ID)
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Str("client", c.ID).Err(err).Msg("WebSocket read failed")
			}
			return
		}
	}
}
