package stream

import (
	"strconv"

	"meethalf/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Routes resolves which event a socket follows and what it sees first.
type Routes struct {
	// Current returns the event the agent has open, or 0.
	Current func() int64
	// Hello returns the frame sent right after a socket connects.
	Hello func(eventID int64) ([]byte, bool)
}

func RegisterRoutes(r fiber.Router, hub *Hub, routes Routes, authMiddleware fiber.Handler) {
	r.Get("/ws", authMiddleware, func(c *fiber.Ctx) error {
		if routes.Current == nil || routes.Current() == 0 {
			return fiber.NewError(fiber.StatusConflict, "no event open")
		}
		c.Locals("event_id", routes.Current())
		return c.Next()
	}, websocket.New(serve(hub, routes)))

	r.Get("/ws/:eventID", authMiddleware, func(c *fiber.Ctx) error {
		eventID, err := strconv.ParseInt(c.Params("eventID"), 10, 64)
		if err != nil || eventID <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid event id")
		}
		c.Locals("event_id", eventID)
		return c.Next()
	}, websocket.New(serve(hub, routes)))
}

func serve(hub *Hub, routes Routes) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		eventID, _ := c.Locals("event_id").(int64)
		client := hub.Register(realtime.ChannelName(eventID))
		defer hub.Unregister(client)

		if routes.Hello != nil {
			if hello, ok := routes.Hello(eventID); ok {
				if err := c.WriteMessage(websocket.TextMessage, hello); err != nil {
					return
				}
			}
		}

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}
}
