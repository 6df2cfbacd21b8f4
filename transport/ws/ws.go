// Package ws implements the event stream: a websocket adapter translating
// Event Bus events into the wire protocol's self-delimiting JSON frames.
// It carries no business logic — Hub only subscribes, marshals, and writes.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dlorp/synapse-engine-sub002/domain/eventbus"
	"github.com/dlorp/synapse-engine-sub002/infrastructure/logging"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The event stream is a read-only fan-out; same-origin checks are the
	// HTTP transport's concern, not this adapter's.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub upgrades incoming connections and relays one Event Bus subscription
// per connection until the client disconnects or the bus closes it.
type Hub struct {
	bus    *eventbus.Bus
	logger *logging.Logger
}

// NewHub constructs a Hub over a live Event Bus.
func NewHub(bus *eventbus.Bus, logger *logging.Logger) *Hub {
	return &Hub{bus: bus, logger: logger}
}

// ServeHTTP upgrades the request to a websocket and streams every
// subsequent bus event as one JSON text frame per message, in the order
// this subscriber received them.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn(r.Context(), "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe()
	defer sub.Close()

	go h.drainInbound(conn)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			frame, err := json.Marshal(e)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainInbound discards any client-sent frames. The event stream is
// one-directional; reading is only needed to surface the close frame and
// keep gorilla/websocket's control-message handling alive.
func (h *Hub) drainInbound(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
