// internal/web/websocket_test.go
package web

import (
	"testing"

	"hostwatch/internal/metrics"
	"hostwatch/internal/store"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	st := store.New()
	t.Cleanup(st.Close)
	return NewHub(metrics.NewCollector(st))
}

func hubClient(hub *Hub, buffer int) *WSClient {
	c := &WSClient{send: make(chan WSMessage, buffer), hub: hub}
	hub.register(c)
	return c
}

func TestHubBroadcastsStoreEvents(t *testing.T) {
	hub := newTestHub(t)
	client := hubClient(hub, 4)

	h := store.Host{ID: "h1", Name: "router"}
	hub.HandleStoreEvent(store.Event{Type: store.EventHostAdded, Host: &h})

	select {
	case msg := <-client.send:
		if msg.Type != string(store.EventHostAdded) {
			t.Errorf("type = %q, want %q", msg.Type, store.EventHostAdded)
		}
	default:
		t.Fatal("no message broadcast")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := newTestHub(t)
	slow := hubClient(hub, 1)
	fast := hubClient(hub, 4)

	ev := store.Event{Type: store.EventStatusChanged, Transition: &store.StatusTransition{HostID: "h1"}}
	hub.HandleStoreEvent(ev)
	hub.HandleStoreEvent(ev)

	hub.mu.Lock()
	_, slowStays := hub.clients[slow]
	_, fastStays := hub.clients[fast]
	hub.mu.Unlock()

	if slowStays {
		t.Error("saturated client not dropped")
	}
	if !fastStays {
		t.Error("healthy client dropped")
	}

	// The dropped client's channel is closed so its write pump exits.
	if _, ok := <-slow.send; !ok {
		t.Fatal("expected one buffered message before close")
	}
	if _, ok := <-slow.send; ok {
		t.Error("send channel not closed")
	}
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	hub := newTestHub(t)
	client := hubClient(hub, 1)

	hub.unregister(client)
	hub.unregister(client) // second call must not close twice

	hub.HandleStoreEvent(store.Event{Type: store.EventHostDeleted})
}
