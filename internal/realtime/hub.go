// Package realtime streams mined receipts and contract logs to WebSocket
// clients as blocks are committed.
//
// Clients start with an empty filter and see every event. Sending
//
//	{"op":"subscribe","types":["log"],"addresses":["0x..."],"names":["Deposited"]}
//
// narrows the stream; {"op":"reset"} clears it again. Each accepted filter
// is acknowledged with a "subscribed" event echoing the normalized filter.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/smarterescrow/internal/metrics"
	"github.com/mbd888/smarterescrow/internal/receipts"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait / 2
	maxMessageSize = 64 * 1024
	sendBuffer     = 256

	// MaxClients is the default cap on concurrent WebSocket connections.
	MaxClients = 10000
)

// EventType names the kind of payload an Event carries.
type EventType string

const (
	EventReceipt    EventType = "receipt"
	EventLog        EventType = "log"
	EventSubscribed EventType = "subscribed"
)

// Event is one message on the stream.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`

	addresses []string // lowercase
	name      string   // receipt method or log event name
}

// LogEvent is the payload of a log event.
type LogEvent struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	receipts.Log
}

// Filter selects events for a client. Empty fields match everything.
type Filter struct {
	Types     []EventType `json:"types,omitempty"`
	Addresses []string    `json:"addresses,omitempty"`
	Names     []string    `json:"names,omitempty"`
}

func (f Filter) normalize() Filter {
	out := Filter{Types: f.Types, Names: f.Names}
	for _, a := range f.Addresses {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			out.Addresses = append(out.Addresses, a)
		}
	}
	return out
}

// Match reports whether ev passes the filter. Subscription acks always pass.
func (f Filter) Match(ev *Event) bool {
	if ev.Type == EventSubscribed {
		return true
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, ev.Type) {
		return false
	}
	if len(f.Names) > 0 && !slices.Contains(f.Names, ev.name) {
		return false
	}
	if len(f.Addresses) > 0 {
		return slices.ContainsFunc(ev.addresses, func(a string) bool {
			return slices.Contains(f.Addresses, a)
		})
	}
	return true
}

type request struct {
	Op string `json:"op"`
	Filter
}

type subscription struct {
	client *Client
	filter Filter
}

// Client is one WebSocket connection. Its filter is owned by the hub loop.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	filter Filter
}

// Stats is a snapshot of hub counters.
type Stats struct {
	Connected int   `json:"connectedClients"`
	Events    int64 `json:"totalEvents"`
	Clients   int64 `json:"totalClients"`
	Peak      int64 `json:"peakClients"`
	Dropped   int64 `json:"droppedEvents"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithOrigins sets the browser origins allowed to connect. "*" allows any
// origin; an empty list allows only the server's own host.
func WithOrigins(origins []string) Option {
	return func(h *Hub) { h.origins = origins }
}

// WithMaxClients overrides MaxClients.
func WithMaxClients(n int) Option {
	return func(h *Hub) { h.maxClients = n }
}

// Hub fans events out to connected clients from a single loop goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	events     chan *Event
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	done       chan struct{}

	mu         sync.RWMutex // guards clients for readers outside Run
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	origins    []string
	maxClients int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
	dropped      atomic.Int64
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		events:     make(chan *Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		done:       make(chan struct{}),
		logger:     logger,
		maxClients: MaxClients,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	if len(h.origins) == 0 {
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
	for _, o := range h.origins {
		if o == "*" || strings.EqualFold(strings.TrimRight(o, "/"), origin) {
			return true
		}
	}
	return false
}

// Run delivers events until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.remove(c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			if int64(n) > h.peakClients.Load() {
				h.peakClients.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("realtime client connected", "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("realtime client disconnected", "clients", n)

		case s := <-h.subscribe:
			if _, ok := h.clients[s.client]; !ok {
				continue
			}
			s.client.filter = s.filter
			h.deliver([]*Client{s.client}, &Event{
				Type:      EventSubscribed,
				Timestamp: time.Now(),
				Data:      s.filter,
			})

		case ev := <-h.events:
			h.totalEvents.Add(1)
			var targets []*Client
			for c := range h.clients {
				if c.filter.Match(ev) {
					targets = append(targets, c)
				}
			}
			h.deliver(targets, ev)
		}
	}
}

// deliver encodes ev once and queues it on each target. Clients whose
// buffers are full are disconnected.
func (h *Hub) deliver(targets []*Client, ev *Event) {
	if len(targets) == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("realtime event encode failed", "type", ev.Type, "error", err)
		return
	}

	var slow []*Client
	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, c := range slow {
		h.remove(c)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.dropped.Add(int64(len(slow)))
	metrics.RealtimeDroppedTotal.WithLabelValues("slow_client").Add(float64(len(slow)))
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Warn("disconnected slow realtime clients", "count", len(slow))
}

// remove must be called with h.mu held.
func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send) // writePump sends a close frame
	}
}

// Broadcast queues an event without blocking. When the queue is full the
// event is dropped.
func (h *Hub) Broadcast(ev *Event) {
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
		metrics.RealtimeDroppedTotal.WithLabelValues("hub_full").Inc()
		h.logger.Warn("realtime queue full, dropping event", "type", ev.Type)
	}
}

// PublishReceipt broadcasts a mined receipt followed by one event per log.
// Its signature matches chain.ReceiptSink.
func (h *Hub) PublishReceipt(_ context.Context, r *receipts.Receipt) {
	if r == nil {
		return
	}
	now := time.Now()
	h.Broadcast(&Event{
		Type:      EventReceipt,
		Timestamp: now,
		Data:      r,
		addresses: lowerNonEmpty(r.From, r.To, r.ContractAddress),
		name:      r.Method,
	})
	for _, l := range r.Logs {
		h.Broadcast(&Event{
			Type:      EventLog,
			Timestamp: now,
			Data:      LogEvent{TxHash: r.TxHash, BlockNumber: r.BlockNumber, Log: l},
			addresses: lowerNonEmpty(l.Address),
			name:      l.Event,
		})
	}
}

func lowerNonEmpty(addrs ...string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a != "" {
			out = append(out, strings.ToLower(a))
		}
	}
	return out
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		Connected: n,
		Events:    h.totalEvents.Load(),
		Clients:   h.totalClients.Load(),
		Peak:      h.peakClients.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// HandleWebSocket upgrades the request and attaches a new client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump applies filter updates until the connection drops.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var req request
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		var f Filter
		switch req.Op {
		case "", "subscribe":
			f = req.Filter.normalize()
		case "reset":
		default:
			continue
		}
		select {
		case c.hub.subscribe <- subscription{client: c, filter: f}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
