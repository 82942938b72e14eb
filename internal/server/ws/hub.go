// Package ws pushes telemetry events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
	maxFrame    = 4096
	clientQueue = 256

	wildcard = "*"
)

// Config carries what the hub reports on connect and which browser origins
// may open a socket. No origins means any origin.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
}

// Hub is a telemetry sink that fans events out to websocket clients. Each
// client has a bounded queue; frames for a full queue are dropped and
// counted, so a slow browser never stalls the telemetry stream.
type Hub struct {
	logger    *slog.Logger
	mode      string
	startedAt time.Time
	upgrader  websocket.Upgrader
	dropped   atomic.Int64

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. Run must be started for the hub to shut down
// cleanly.
func NewHub(logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	origins := cfg.AllowedOrigins
	return &Hub{
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      mode,
		startedAt: startedAt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 {
					return true
				}
				return slices.ContainsFunc(origins, func(o string) bool {
					return o == wildcard || strings.EqualFold(o, origin)
				})
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// envelope is the JSON frame sent to clients.
type envelope struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type frame struct {
	eventType domain.EventType
	data      []byte
}

func (h *Hub) Name() string { return "ws" }

// Write encodes each event once and queues it for every client subscribed to
// its type.
func (h *Hub) Write(_ context.Context, events []domain.Event) error {
	frames := make([]frame, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(envelope{Type: string(ev.Type), Payload: ev.Fields()})
		if err != nil {
			return fmt.Errorf("ws: encode %s: %w", ev.Type, err)
		}
		frames = append(frames, frame{eventType: ev.Type, data: data})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		for _, f := range frames {
			if !c.wants(f.eventType) {
				continue
			}
			select {
			case c.send <- f.data:
			default:
				h.dropped.Add(1)
			}
		}
	}
	return nil
}

// Dropped returns how many frames were discarded for slow clients.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Run blocks until ctx is done and then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if n := h.dropped.Load(); n > 0 {
		h.logger.Warn("frames dropped for slow clients", slog.Int64("dropped", n))
	}
	return nil
}

// HandleWS upgrades the request and streams every event type until the
// client narrows its subscription.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue), all: true}
	c.send <- h.statusFrame()
	if !h.add(c) {
		conn.Close()
		return
	}
	go c.writeLoop()
	go h.readLoop(c)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.Int("clients", n))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("client disconnected", slog.Int("clients", n))
	}
}

func (h *Hub) statusFrame() []byte {
	data, _ := json.Marshal(envelope{Type: "status", Payload: map[string]any{
		"mode":           h.mode,
		"uptime_seconds": max(int64(time.Since(h.startedAt).Seconds()), 0),
	}})
	return data
}

// readLoop applies subscription requests until the connection fails.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		reply := c.apply(raw)
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			select {
			case c.send <- reply:
			default:
				h.dropped.Add(1)
			}
		}
		h.mu.Unlock()
	}
}

// client is one websocket connection and its event filter.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu    sync.RWMutex
	all   bool
	types map[domain.EventType]bool
}

func (c *client) wants(t domain.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.all || c.types[t]
}

// control is a subscription request, e.g.
// {"action":"subscribe","events":["execution_transition"]}.
type control struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// apply changes the filter and returns the reply frame. Subscribing to
// named types replaces the initial wildcard; "*" restores it.
func (c *client) apply(raw []byte) []byte {
	var msg control
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errorFrame("malformed control message")
	}
	for _, e := range msg.Events {
		if e != wildcard && !domain.EventType(e).Known() {
			return errorFrame("unknown event type " + e)
		}
	}

	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		if slices.Contains(msg.Events, wildcard) {
			c.all, c.types = true, nil
			break
		}
		if c.types == nil {
			c.types = make(map[domain.EventType]bool)
		}
		c.all = false
		for _, e := range msg.Events {
			c.types[domain.EventType(e)] = true
		}
	case "unsubscribe":
		if slices.Contains(msg.Events, wildcard) {
			c.all, c.types = false, nil
			break
		}
		for _, e := range msg.Events {
			delete(c.types, domain.EventType(e))
		}
	default:
		c.mu.Unlock()
		return errorFrame("unknown action " + msg.Action)
	}
	current := []string{wildcard}
	if !c.all {
		current = current[:0]
		for t := range c.types {
			current = append(current, string(t))
		}
		slices.Sort(current)
	}
	c.mu.Unlock()

	data, _ := json.Marshal(envelope{Type: "subscribed", Payload: map[string]any{"events": current}})
	return data
}

func errorFrame(msg string) []byte {
	data, _ := json.Marshal(envelope{Type: "error", Payload: map[string]any{"message": msg}})
	return data
}

// writeLoop drains the queue and keeps the connection alive with pings.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
