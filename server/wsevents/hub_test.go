package wsevents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-ide/lumen/host"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := NewHub([]string{"*"})
	server := httptest.NewServer(hub)
	defer server.Close()

	first := dial(t, server)
	second := dial(t, server)
	waitForClients(t, hub, 2)

	sent := hub.Broadcast(Event{Type: "notification", Payload: json.RawMessage(`{"message":"hi"}`)})
	assert.Equal(t, 2, sent)

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var event Event
		require.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, "notification", event.Type)
		assert.NotZero(t, event.Timestamp)
	}
}

func TestBridgeBusForwardsTopics(t *testing.T) {
	hub := NewHub([]string{"*"})
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server)
	waitForClients(t, hub, 1)

	bus := host.NewBus(nil)
	dispose, err := hub.BridgeBus(context.Background(), bus, "ui:notifications")
	require.NoError(t, err)
	defer dispose()

	bus.Publish("ui:notifications", json.RawMessage(`{"level":"info","message":"loaded"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "ui:notifications", event.Topic)
	assert.JSONEq(t, `{"level":"info","message":"loaded"}`, string(event.Payload))

	dispose()
	bus.Publish("ui:notifications", json.RawMessage(`{}`))
	assert.Zero(t, bus.SubscriberCount("ui:notifications"))
}

func TestClientDisconnectIsRemoved(t *testing.T) {
	hub := NewHub([]string{"*"})
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server)
	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)

	assert.Zero(t, hub.Broadcast(Event{Type: "notification"}))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173"})

	allowedReq := httptest.NewRequest(http.MethodGet, "/ws", nil)
	allowedReq.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, check(allowedReq))

	deniedReq := httptest.NewRequest(http.MethodGet, "/ws", nil)
	deniedReq.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(deniedReq))

	noOrigin := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(noOrigin))

	wildcard := originChecker([]string{"*"})
	assert.True(t, wildcard(deniedReq))
}
