package agent

import (
	"errors"
	"time"

	"meethalf/internal/api"
	"meethalf/internal/room"
	"meethalf/internal/tracking"

	"github.com/gofiber/fiber/v2"
)

// Feed is where the local UI's geolocation samples enter the tracker.
type Feed interface {
	Push(p tracking.Position) int
	SetPermission(granted bool)
}

func RegisterRoutes(r fiber.Router, s *Session, feed Feed, authMiddleware fiber.Handler) {
	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		v, err := s.View()
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(v)
	})

	r.Post("/open", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			EventID int64 `json:"eventId"`
		}
		if err := c.BodyParser(&body); err != nil || body.EventID <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "eventId required")
		}
		if err := s.Open(c.Context(), body.EventID); err != nil {
			return toHTTPError(err)
		}
		v, err := s.View()
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(v)
	})

	r.Post("/join", authMiddleware, func(c *fiber.Ctx) error {
		var req room.JoinInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		v, err := s.Join(c.Context(), req)
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(v)
	})

	r.Post("/arrival", authMiddleware, func(c *fiber.Ctx) error {
		resp, err := s.MarkArrival(c.Context())
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(resp)
	})

	r.Post("/poke", authMiddleware, func(c *fiber.Ctx) error {
		var req api.PokeRequest
		if err := c.BodyParser(&req); err != nil || req.TargetMemberID <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "targetMemberId required")
		}
		count, err := s.Poke(c.Context(), req.TargetMemberID)
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(api.PokeResponse{PokeCount: count})
	})

	r.Post("/position", authMiddleware, func(c *fiber.Ctx) error {
		var pos tracking.Position
		if err := c.BodyParser(&pos); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if pos.Lat < -90 || pos.Lat > 90 || pos.Lng < -180 || pos.Lng > 180 {
			return fiber.NewError(fiber.StatusBadRequest, "lat/lng out of range")
		}
		if pos.Timestamp.IsZero() {
			pos.Timestamp = time.Now()
		}
		return c.JSON(fiber.Map{"watchers": feed.Push(pos)})
	})

	r.Post("/position/permission", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			Granted *bool `json:"granted"`
		}
		if err := c.BodyParser(&body); err != nil || body.Granted == nil {
			return fiber.NewError(fiber.StatusBadRequest, "granted required")
		}
		feed.SetPermission(*body.Granted)
		s.PermissionChanged(*body.Granted)
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func toHTTPError(err error) error {
	var apiErr *api.Error
	switch {
	case errors.Is(err, ErrNotOpen):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, room.ErrNotFound), errors.Is(err, room.ErrUnknownMember):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, room.ErrNicknameRequired), errors.Is(err, room.ErrInvalidTravelMode):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, room.ErrTooFar):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, room.ErrAlreadyJoined), errors.Is(err, room.ErrNotJoined),
		errors.Is(err, room.ErrAlreadyArrived), errors.Is(err, room.ErrPokeNotAllowed),
		errors.Is(err, room.ErrNotLoaded):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case api.IsNetworkError(err):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.As(err, &apiErr):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
