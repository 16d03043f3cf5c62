package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

func TestWebSocketTransportReceivesFrames(t *testing.T) {
	paths := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		env, _ := NewEnvelope(TypeLocationUpdate, LocationUpdate{MemberID: 3, Lat: 25, Lng: 121.5})
		data, _ := json.Marshal(env)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, data)
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	tr := &WebSocketTransport{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/ws",
		RetryDelay: 10 * time.Millisecond,
		Logger:     discard{},
	}
	sub, err := tr.Subscribe(context.Background(), ChannelName(4))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if p := <-paths; p != "/stream/ws/event-4" {
		t.Fatalf("unexpected path %s", p)
	}

	select {
	case env := <-sub.Messages():
		if env.Type != TypeLocationUpdate {
			t.Fatalf("unexpected frame %s", env.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for frame")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Messages():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("messages not closed after Close")
		}
	}
}

func TestWebSocketTransportDialError(t *testing.T) {
	tr := &WebSocketTransport{URL: "ws://127.0.0.1:1/stream/ws"}
	if _, err := tr.Subscribe(context.Background(), "event-1"); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestRedisTransportPublishSubscribe(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	tr := &RedisTransport{Client: client}
	ch := NewChannel(tr, discard{})

	got := make(chan Poke, 1)
	if err := ch.Bind(context.Background(), 12, Handlers{Poke: func(p Poke) { got <- p }}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer ch.Unbind()

	env, _ := NewEnvelope(TypePoke, Poke{FromMemberID: 1, ToMemberID: 2, FromNickname: "A", Count: 3})
	if err := tr.Publish(context.Background(), 12, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case p := <-got:
		if p.ToMemberID != 2 || p.Count != 3 {
			t.Fatalf("unexpected poke %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for poke")
	}
}
