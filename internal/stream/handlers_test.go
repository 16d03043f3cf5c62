package stream

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

func pass(c *fiber.Ctx) error { return c.Next() }

func startApp(t *testing.T, hub *Hub, routes Routes) string {
	t.Helper()
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, routes, pass)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String()
}

func waitForClients(t *testing.T, hub *Hub, topic string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.Count(topic) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients on %s, got %d", n, topic, hub.Count(topic))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamHandlersUpgradeRequired(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(), Routes{}, pass)

	req := httptest.NewRequest(http.MethodGet, "/stream/ws/1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("expected non-200 for non-websocket request")
	}
}

func TestStreamHandlersNoEventOpen(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(), Routes{Current: func() int64 { return 0 }}, pass)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stream/ws", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestStreamHandlersBadEventID(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(), Routes{}, pass)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stream/ws/abc", nil))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStreamHandlersCurrentEventBroadcast(t *testing.T) {
	hub := NewHub()
	base := startApp(t, hub, Routes{
		Current: func() int64 { return 4 },
		Hello: func(eventID int64) ([]byte, bool) {
			return []byte("hello"), eventID == 4
		},
	})

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ws", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("expected hello frame, got %q", msg)
	}

	waitForClients(t, hub, "event-4", 1)
	hub.Broadcast("event-4", []byte("update"))
	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(msg) != "update" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestStreamHandlersClientCloseUnregisters(t *testing.T) {
	hub := NewHub()
	base := startApp(t, hub, Routes{})

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ws/3", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	waitForClients(t, hub, "event-3", 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	waitForClients(t, hub, "event-3", 0)
	hub.Broadcast("event-3", []byte("ping"))
}

func TestStreamHandlersRunAuthFirst(t *testing.T) {
	app := fiber.New()
	deny := func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token") }
	RegisterRoutes(app.Group("/stream"), NewHub(), Routes{Current: func() int64 { return 1 }}, deny)

	for _, path := range []string{"/stream/ws", "/stream/ws/1"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("test request: %v", err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}
}
