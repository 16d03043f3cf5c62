package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"meethalf/internal/event"

	"github.com/google/uuid"
)

const guestTokenHeader = "X-Guest-Token"

// Client talks to the MeetHalf REST backend.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	accessToken string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithAccessToken authenticates every request as a signed-in user.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.accessToken = token }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetEvent(ctx context.Context, eventID int64) (event.Event, error) {
	var ev event.Event
	if err := c.do(ctx, http.MethodGet, eventPath(eventID, ""), "", nil, &ev); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

func (c *Client) Join(ctx context.Context, eventID int64, req JoinRequest) (JoinResponse, error) {
	var resp JoinResponse
	if err := c.do(ctx, http.MethodPost, eventPath(eventID, "/join"), "", req, &resp); err != nil {
		return JoinResponse{}, err
	}
	return resp, nil
}

func (c *Client) MarkArrival(ctx context.Context, eventID int64, guestToken string) (ArrivalResponse, error) {
	var resp ArrivalResponse
	if err := c.do(ctx, http.MethodPost, eventPath(eventID, "/arrival"), guestToken, nil, &resp); err != nil {
		return ArrivalResponse{}, err
	}
	return resp, nil
}

func (c *Client) UpdateLocation(ctx context.Context, eventID int64, guestToken string, lat, lng float64) error {
	return c.do(ctx, http.MethodPost, eventPath(eventID, "/location"), guestToken, LocationRequest{Lat: lat, Lng: lng}, nil)
}

func (c *Client) Poke(ctx context.Context, eventID int64, guestToken string, targetMemberID int64) (PokeResponse, error) {
	var resp PokeResponse
	body := PokeRequest{TargetMemberID: targetMemberID}
	if err := c.do(ctx, http.MethodPost, eventPath(eventID, "/poke"), guestToken, body, &resp); err != nil {
		return PokeResponse{}, err
	}
	return resp, nil
}

func (c *Client) ETA(ctx context.Context, eventID int64) (ETAResponse, error) {
	var resp ETAResponse
	if err := c.do(ctx, http.MethodGet, eventPath(eventID, "/eta"), "", nil, &resp); err != nil {
		return ETAResponse{}, err
	}
	return resp, nil
}

func eventPath(eventID int64, suffix string) string {
	return fmt.Sprintf("/events/%d%s", eventID, suffix)
}

func (c *Client) do(ctx context.Context, method, path, guestToken string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	if guestToken != "" {
		req.Header.Set(guestTokenHeader, guestToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &Error{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%s %s: %w", method, path, ErrEmptyResponse)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}
