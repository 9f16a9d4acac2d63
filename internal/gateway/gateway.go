// Package gateway forwards engine events to live websocket subscribers. It
// subscribes to an allow-list of event types on the in-process bus and fans
// each event out to the connections whose filter matches. Delivery is
// at-most-once: a disconnected or backed-up subscriber misses events and is
// expected to fetch a fresh status snapshot on reconnect, never a replay.
package gateway

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docwatch/sentinel/internal/metrics"
	"github.com/docwatch/sentinel/pkg/events"
	"github.com/docwatch/sentinel/pkg/lifecycle"
)

// Envelope is the wire format for forwarded events.
type Envelope struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// controlMessage is what a connection sends to adjust its filter or keep the
// connection alive. Keepalives never produce business events.
type controlMessage struct {
	Action     string   `json:"action"`
	EventTypes []string `json:"event_types,omitempty"`
}

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPing        = "ping"
)

// Gateway is the real-time broadcast hub.
type Gateway struct {
	cfg    *Config
	bus    *events.Bus
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*connection]struct{}
	subs  []*events.Subscription
}

// New creates a Gateway. cfg must be finalized.
func New(cfg *Config, bus *events.Bus, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		bus:    bus,
		logger: logger.With("system", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*connection]struct{}),
	}
}

// Start subscribes the gateway to its allowed event types and tears the
// subscriptions and connections down on shutdown.
func (g *Gateway) Start(lc *lifecycle.Coordinator) error {
	for _, eventType := range g.cfg.AllowedEvents {
		g.subs = append(g.subs, g.bus.Subscribe(eventType, g.broadcast))
	}

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		g.close()
	})
	return nil
}

// ServeHTTP upgrades the request to a websocket connection and registers it
// with an empty filter, meaning all allowed events.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &connection{
		ws:      ws,
		send:    make(chan Envelope, g.cfg.SendBuffer),
		filters: make(map[string]struct{}),
	}

	g.mu.Lock()
	g.conns[c] = struct{}{}
	count := len(g.conns)
	g.mu.Unlock()

	metrics.GatewayConnections.Inc()
	g.logger.Info("subscriber connected",
		"remote", ws.RemoteAddr().String(),
		"connections", count,
	)

	go c.writePump(g.cfg.WriteTimeoutDuration(), g.cfg.PingIntervalDuration())
	c.readPump(g)
}

// broadcast fans one event out to every connection whose filter matches. A
// connection with a full send buffer drops the event rather than blocking
// the bus.
func (g *Gateway) broadcast(event events.Event) {
	envelope := Envelope{
		EventType: event.Type,
		Data:      event.Payload,
		Timestamp: event.Timestamp,
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for c := range g.conns {
		if !c.wants(event.Type) {
			continue
		}
		select {
		case c.send <- envelope:
		default:
			g.logger.Warn("subscriber send buffer full, dropping event",
				"event_type", event.Type,
			)
		}
	}
}

// remove purges a connection after disconnect.
func (g *Gateway) remove(c *connection) {
	g.mu.Lock()
	_, present := g.conns[c]
	delete(g.conns, c)
	count := len(g.conns)
	g.mu.Unlock()

	if !present {
		return
	}

	close(c.send)
	metrics.GatewayConnections.Dec()
	g.logger.Info("subscriber disconnected", "connections", count)
}

func (g *Gateway) close() {
	for _, sub := range g.subs {
		sub.Unsubscribe()
	}

	g.mu.Lock()
	conns := make([]*connection, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}
