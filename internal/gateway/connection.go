package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// connection is one live subscriber. An empty filter set forwards every
// allowed event; subscribe/unsubscribe control messages narrow or widen it.
type connection struct {
	ws   *websocket.Conn
	send chan Envelope

	mu      sync.Mutex
	filters map[string]struct{}
}

// wants reports whether the connection's filter matches an event type.
func (c *connection) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.filters) == 0 {
		return true
	}
	_, ok := c.filters[eventType]
	return ok
}

func (c *connection) subscribe(eventTypes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range eventTypes {
		c.filters[t] = struct{}{}
	}
}

func (c *connection) unsubscribe(eventTypes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range eventTypes {
		delete(c.filters, t)
	}
}

// readPump consumes control messages until the peer disconnects, then purges
// the connection from the gateway registry.
func (c *connection) readPump(g *Gateway) {
	defer func() {
		g.remove(c)
		c.ws.Close()
	}()

	for {
		var msg controlMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("subscriber read failed", "error", err)
			}
			return
		}

		switch msg.Action {
		case actionSubscribe:
			c.subscribe(msg.EventTypes)
		case actionUnsubscribe:
			c.unsubscribe(msg.EventTypes)
		case actionPing:
			// Keepalive only; answered in-channel, never published.
			select {
			case c.send <- Envelope{EventType: "pong", Timestamp: time.Now().UTC()}:
			default:
			}
		default:
			g.logger.Warn("unknown control action", "action", msg.Action)
		}
	}
}

// writePump serializes envelopes to the peer and emits protocol pings on an
// interval. It exits when the send channel closes or a write fails.
func (c *connection) writePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case envelope, ok := <-c.send:
			if !ok {
				c.ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout),
				)
				return
			}

			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(envelope); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
