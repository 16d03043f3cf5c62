package server

import (
	"encoding/json"

	"meethalf/internal/agent"
	"meethalf/internal/auth"
	"meethalf/internal/config"
	"meethalf/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Server is the local API the UI talks to.
type Server struct {
	App     *fiber.App
	Cfg     config.Config
	Session *agent.Session
	Feed    agent.Feed
	Stream  *stream.Hub
}

func NewServer(cfg config.Config, session *agent.Session, feed agent.Feed, hub *stream.Hub) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:     app,
		Cfg:     cfg,
		Session: session,
		Feed:    feed,
		Stream:  hub,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "eventId": s.Session.EventID()})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	agent.RegisterRoutes(s.App.Group("/room"), s.Session, s.Feed, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, stream.Routes{
		Current: s.Session.EventID,
		Hello:   s.hello,
	}, jwtMiddleware)
}

// hello greets a new UI socket with the current view of its event.
func (s *Server) hello(eventID int64) ([]byte, bool) {
	if eventID != s.Session.EventID() {
		return nil, false
	}
	v, err := s.Session.View()
	if err != nil {
		return nil, false
	}
	payload, err := json.Marshal(stream.Frame{Type: "room", Data: v})
	if err != nil {
		return nil, false
	}
	return payload, true
}
