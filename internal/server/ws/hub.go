// Package ws streams listing lifecycle events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

const (
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent; pings go out well
	// before it elapses.
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 4096

	// clientBuffer is the per-connection outgoing queue. Slow clients that
	// fall behind lose events instead of stalling the hub.
	clientBuffer = 64
)

// eventsChannel is the bus channel the hub mirrors when a signal bus is
// configured.
const eventsChannel = "listings:events"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the frontend host is settled.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one WebSocket connection with its outgoing queue.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte
}

// Hub fans listing lifecycle events out to connected WebSocket clients.
// Events arrive in-process via Broadcast, and from other processes via the
// signal bus when one is configured.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	feed  chan []byte
	join  chan *client
	leave chan *client

	bus       domain.SignalBus // nil when running without redis
	logger    *slog.Logger
	mode      string
	startedAt time.Time
}

// Config captures runtime metadata reported to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// NewHub creates a hub. bus may be nil; the hub then relays only in-process
// events.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	mode := cfg.Mode
	if mode == "" {
		mode = "unknown"
	}

	return &Hub{
		clients:   make(map[*client]struct{}),
		feed:      make(chan []byte, 256),
		join:      make(chan *client),
		leave:     make(chan *client),
		bus:       bus,
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      mode,
		startedAt: startedAt,
	}
}

// Broadcast queues a payload for every connected client. It never blocks;
// when the hub's feed is full the payload is dropped.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.feed <- payload:
	default:
		h.logger.Warn("ws: hub feed full, dropping payload")
	}
}

// Run drives the hub until ctx is cancelled, at which point every client is
// disconnected.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.mirrorBus(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.out)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case payload := <-h.feed:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.out <- payload:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.out)
		delete(h.clients, c)
	}
}

// mirrorBus relays the shared event channel into the hub so clients of this
// process also see events committed elsewhere.
func (h *Hub) mirrorBus(ctx context.Context) {
	feed, err := h.bus.Subscribe(ctx, eventsChannel)
	if err != nil {
		h.logger.Error("ws: subscribe to event channel failed",
			slog.String("channel", eventsChannel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: mirroring event channel", slog.String("channel", eventsChannel))

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-feed:
			if !ok {
				h.logger.Warn("ws: event channel subscription closed")
				return
			}
			h.Broadcast(payload)
		}
	}
}

// HandleWS upgrades the request and registers the connection with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		out:  make(chan []byte, clientBuffer),
	}
	h.join <- c
	c.greet()

	go c.writeLoop()
	go c.readLoop()
}

// greet queues a status envelope so clients can mark the connection healthy
// before any lifecycle event flows.
func (c *client) greet() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	msg, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"connected":      true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.out <- msg:
	default:
	}
}

// readLoop drains the connection so ping, pong, and close frames are
// processed. Clients have nothing to say; incoming data frames are discarded.
func (c *client) readLoop() {
	defer func() {
		c.hub.leave <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writeLoop sends queued payloads as text frames and keeps the connection
// alive with periodic pings.
func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
