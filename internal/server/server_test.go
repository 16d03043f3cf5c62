package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meethalf/internal/agent"
	"meethalf/internal/api"
	"meethalf/internal/config"
	"meethalf/internal/event"
	"meethalf/internal/realtime"
	"meethalf/internal/stream"
	"meethalf/internal/tracking"

	"github.com/golang-jwt/jwt/v5"
)

type stubClient struct{}

func (stubClient) GetEvent(_ context.Context, eventID int64) (event.Event, error) {
	if eventID != 1 {
		return event.Event{}, &api.Error{Status: http.StatusNotFound}
	}
	return event.Event{
		ID:        1,
		Status:    event.StatusUpcoming,
		StartTime: time.Now().Add(24 * time.Hour),
		EndTime:   time.Now().Add(26 * time.Hour),
	}, nil
}

func (stubClient) Join(context.Context, int64, api.JoinRequest) (api.JoinResponse, error) {
	return api.JoinResponse{}, nil
}

func (stubClient) MarkArrival(context.Context, int64, string) (api.ArrivalResponse, error) {
	return api.ArrivalResponse{}, nil
}

func (stubClient) Poke(context.Context, int64, string, int64) (api.PokeResponse, error) {
	return api.PokeResponse{}, nil
}

func (stubClient) ETA(context.Context, int64) (api.ETAResponse, error) {
	return api.ETAResponse{}, nil
}

func (stubClient) UpdateLocation(context.Context, int64, string, float64, float64) error {
	return nil
}

type idleSub struct{ ch chan realtime.Envelope }

func (s idleSub) Messages() <-chan realtime.Envelope { return s.ch }
func (s idleSub) Close() error                       { close(s.ch); return nil }

type idleTransport struct{}

func (idleTransport) Subscribe(context.Context, string) (realtime.Subscription, error) {
	return idleSub{ch: make(chan realtime.Envelope)}, nil
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	feed := tracking.NewFeedSource()
	hub := stream.NewHub()
	session := agent.New(agent.Deps{
		Client:    stubClient{},
		Transport: idleTransport{},
		Source:    feed,
		Hub:       hub,
		Config:    cfg,
	})
	t.Cleanup(session.Close)
	return NewServer(cfg, session, feed, hub)
}

func TestHealthRoute(t *testing.T) {
	s := newTestServer(t, config.Config{ServerPort: ":0"})

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestRoomRouteRequiresToken(t *testing.T) {
	s := newTestServer(t, config.Config{JWTSecret: "secret"})

	resp, err := s.App.Test(httptest.NewRequest("GET", "/room", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-1",
		"exp":     time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest("GET", "/room", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	// authorized, but nothing is open yet
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestRoomRouteAfterOpen(t *testing.T) {
	s := newTestServer(t, config.Config{})
	if err := s.Session.Open(context.Background(), 1); err != nil {
		t.Fatalf("open: %v", err)
	}

	resp, err := s.App.Test(httptest.NewRequest("GET", "/room", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var frame stream.Frame
	payload, ok := s.hello(1)
	if !ok {
		t.Fatalf("expected hello frame for the open event")
	}
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Type != "room" {
		t.Fatalf("unexpected hello %s %v", payload, err)
	}
	if _, ok := s.hello(2); ok {
		t.Fatalf("no hello for another event")
	}
}

func TestStreamRouteWithoutEvent(t *testing.T) {
	s := newTestServer(t, config.Config{})

	resp, err := s.App.Test(httptest.NewRequest("GET", "/stream/ws", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestStreamRouteRequiresToken(t *testing.T) {
	s := newTestServer(t, config.Config{JWTSecret: "secret"})
	if err := s.Session.Open(context.Background(), 1); err != nil {
		t.Fatalf("open: %v", err)
	}

	for _, path := range []string{"/stream/ws", "/stream/ws/1"} {
		resp, err := s.App.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("test request: %v", err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-1",
		"exp":     time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest("GET", "/stream/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	// authorized, but not a websocket upgrade
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusOK {
		t.Fatalf("expected the token to pass and the upgrade to be refused, got %d", resp.StatusCode)
	}
}
