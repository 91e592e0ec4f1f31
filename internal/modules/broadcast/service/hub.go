package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	EventConnected = "connected"
	EventHeartbeat = "heartbeat"
	EventPong      = "pong"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	sendBuffer = 64
)

// Frame: сообщение в /ws.
type Frame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Options struct {
	Heartbeat time.Duration
	// CheckOrigin nil => любые origin
	CheckOrigin func(r *http.Request) bool
}

// Hub рассылает события всем подключённым клиентам. Медленный клиент отключается.
type Hub struct {
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	log       *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub(opts Options, log *zap.Logger) *Hub {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(r *http.Request) bool { return true }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		upgrader:  websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		heartbeat: opts.Heartbeat,
		log:       log,
		clients:   make(map[*client]struct{}),
	}
}

func encode(event string, data any) ([]byte, error) {
	return sonic.Marshal(Frame{Type: event, Data: data, Timestamp: time.Now().UTC()})
}

// Publish ставит событие в очередь каждого клиента, не блокируясь.
func (h *Hub) Publish(event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		h.log.Error("broadcast encode", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("broadcast client too slow, dropping")
		h.remove(c)
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS апгрейдит соединение и держит его до разрыва.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	if msg, err := encode(EventConnected, map[string]any{"clients": len(h.clients) + 1}); err == nil {
		c.send <- msg
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	c.once.Do(func() {
		close(c.send)
	})
}

type inbound struct {
	Type string `json:"type"`
}

// readLoop отвечает на ping клиента; "ping" можно слать и строкой, и {"type":"ping"}.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in inbound
		if string(raw) != "ping" {
			if err := sonic.Unmarshal(raw, &in); err != nil || in.Type != "ping" {
				continue
			}
		}
		msg, err := encode(EventPong, nil)
		if err != nil {
			continue
		}
		h.mu.RLock()
		_, alive := h.clients[c]
		if alive {
			select {
			case c.send <- msg:
			default:
			}
		}
		h.mu.RUnlock()
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.heartbeat)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			msg, err := encode(EventHeartbeat, nil)
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close отключает всех клиентов.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
	return nil
}
