package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dlorp/synapse-engine-sub002/domain/eventbus"
	"github.com/dlorp/synapse-engine-sub002/domain/query"
)

func TestHubStreamsPublishedEvent(t *testing.T) {
	bus := eventbus.New(16)
	hub := NewHub(bus, nil)

	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register its subscription
	// before publishing, since Subscribe happens inside ServeHTTP.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(query.NewEvent(query.EventQueryReceived, "q-1", map[string]interface{}{"mode": "standard"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var got query.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Kind != query.EventQueryReceived || got.QueryID != "q-1" {
		t.Errorf("got = %+v", got)
	}
}
