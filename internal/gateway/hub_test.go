package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(hub)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return ev
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count: got %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsToConnectedClient(t *testing.T) {
	hub := NewHub(nil, nil)
	conn, done := dialHub(t, hub)
	defer done()
	waitForClients(t, hub, 1)

	hub.Emit("cycle_completed", map[string]any{"agent_id": "agent-1", "iterations": float64(3)})

	ev := readEvent(t, conn)
	if ev.Event != "cycle_completed" {
		t.Fatalf("event = %q", ev.Event)
	}
	if got, _ := ev.Payload["agent_id"].(string); got != "agent-1" {
		t.Fatalf("agent_id = %q", got)
	}
}

func TestHub_SubscribeFiltersByAgent(t *testing.T) {
	hub := NewHub(nil, nil)
	conn, done := dialHub(t, hub)
	defer done()
	waitForClients(t, hub, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"method":"subscribe","agent_ids":["agent-2"]}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, conn); ev.Event != "subscribed" {
		t.Fatalf("expected subscribed ack, got %q", ev.Event)
	}

	hub.Emit("cycle_started", map[string]any{"agent_id": "agent-1"})
	hub.Emit("cycle_started", map[string]any{"agent_id": "agent-2"})

	ev := readEvent(t, conn)
	if got, _ := ev.Payload["agent_id"].(string); got != "agent-2" {
		t.Fatalf("filter leaked event for %q", got)
	}
}

func TestHub_PingGetsPong(t *testing.T) {
	hub := NewHub(nil, nil)
	conn, done := dialHub(t, hub)
	defer done()
	waitForClients(t, hub, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"method":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, conn); ev.Event != "pong" {
		t.Fatalf("expected pong, got %q", ev.Event)
	}
}

func TestHub_InvalidFrameGetsErrorReply(t *testing.T) {
	hub := NewHub(nil, nil)
	conn, done := dialHub(t, hub)
	defer done()
	waitForClients(t, hub, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"method":"restart"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Event != "error" {
		t.Fatalf("expected error reply, got %q", ev.Event)
	}

	// Connection stays usable afterwards.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"method":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := readEvent(t, conn); ev.Event != "pong" {
		t.Fatalf("expected pong after error, got %q", ev.Event)
	}
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	hub := NewHub(nil, nil)
	conn, done := dialHub(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
	done()

	// Emitting with no clients must not block or panic.
	hub.Emit("cycle_completed", map[string]any{"agent_id": "agent-1"})
}

func TestServer_HealthAndMetrics(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := NewServer(hub, "127.0.0.1", 0, "/metrics", nil)
	if err := srv.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop(t.Context())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}
