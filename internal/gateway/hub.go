// Package gateway is the runtime's outward face for dashboards: a WebSocket
// hub fanning out loop events, plus the metrics and health endpoints.
// Emission is best-effort; a slow or dead client never blocks reasoning.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/legionruntime/legion/internal/observability"
)

const (
	// clientBuffer is the per-client outbound queue. Events beyond it are
	// dropped for that client.
	clientBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	maxInboundBytes = 4 << 10
)

// Event is one runtime event as sent on the wire.
type Event struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// client is one connected dashboard subscriber.
type client struct {
	conn *websocket.Conn
	send chan Event

	mu     sync.Mutex
	agents map[string]bool // empty means all agents
}

// wants reports whether the client's subscription covers the event.
func (c *client) wants(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.agents) == 0 {
		return true
	}
	agentID, _ := ev.Payload["agent_id"].(string)
	return agentID != "" && c.agents[agentID]
}

// Hub fans runtime events out to WebSocket subscribers. It implements the
// reasoning loop's EventSink.
type Hub struct {
	logger   *slog.Logger
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub builds an event hub. metrics may be nil.
func NewHub(metrics *observability.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "gateway"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards connect from anywhere on the operator's network;
			// auth is out of scope here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now:     time.Now,
		clients: map[*client]bool{},
	}
}

// Emit broadcasts one event to every subscribed client. It never blocks:
// clients with full queues miss the event.
func (h *Hub) Emit(event string, payload map[string]any) {
	ev := Event{Event: event, Payload: payload, At: h.now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			// Dropped for this client.
		}
	}
}

// ClientCount reports connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan Event, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Inc()
	}
	h.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Dec()
	}
	close(c.send)
}

// readLoop consumes inbound frames: subscribe to narrow the agent filter,
// ping for liveness. Invalid frames get an error reply and are otherwise
// ignored.
func (h *Hub) readLoop(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := parseClientFrame(raw)
		if err != nil {
			h.reply(c, Event{Event: "error", Payload: map[string]any{"error": err.Error()}, At: h.now().UTC()})
			continue
		}
		switch frame.Method {
		case "subscribe":
			c.mu.Lock()
			c.agents = map[string]bool{}
			for _, id := range frame.AgentIDs {
				c.agents[id] = true
			}
			c.mu.Unlock()
			h.reply(c, Event{Event: "subscribed", Payload: map[string]any{"agents": frame.AgentIDs}, At: h.now().UTC()})
		case "ping":
			h.reply(c, Event{Event: "pong", At: h.now().UTC()})
		}
	}
}

// reply queues a direct response to one client, best-effort.
func (h *Hub) reply(c *client, ev Event) {
	select {
	case c.send <- ev:
	default:
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
