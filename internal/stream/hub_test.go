package stream

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	client := hub.Register("event-1")
	defer hub.Unregister(client)

	hub.Broadcast("event-1", []byte("hello"))

	select {
	case msg := <-client.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
}

func TestHubBroadcastOtherTopic(t *testing.T) {
	hub := NewHub()
	client := hub.Register("event-1")
	defer hub.Unregister(client)

	hub.Broadcast("event-2", []byte("hello"))

	select {
	case <-client.Send:
		t.Fatalf("message leaked across topics")
	default:
	}
}

func TestHubPublishFrame(t *testing.T) {
	hub := NewHub()
	client := hub.Register("event-1")
	defer hub.Unregister(client)

	if err := hub.Publish("event-1", "poke", map[string]int{"count": 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var frame struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	if err := json.Unmarshal(<-client.Send, &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Type != "poke" || frame.Data["count"] != 2 {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestHubFullBufferDrops(t *testing.T) {
	hub := NewHub()
	client := hub.Register("event-1")
	defer hub.Unregister(client)

	for i := 0; i < cap(client.Send)+10; i++ {
		hub.Broadcast("event-1", []byte("x"))
	}
	if len(client.Send) != cap(client.Send) {
		t.Fatalf("expected full buffer, got %d", len(client.Send))
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub()
	client := hub.Register("event-2")
	hub.Unregister(client)
	_, ok := <-client.Send
	if ok {
		t.Fatalf("expected channel closed")
	}
	if hub.Count("event-2") != 0 {
		t.Fatalf("expected topic removed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}
