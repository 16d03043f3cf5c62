package agent

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"meethalf/internal/config"
	"meethalf/internal/eta"
	"meethalf/internal/membership"
	"meethalf/internal/realtime"
	"meethalf/internal/room"
	"meethalf/internal/stream"
	"meethalf/internal/tracking"

	"github.com/robfig/cron/v3"
)

var ErrNotOpen = errors.New("no event open")

// Client is the slice of the backend API the agent drives.
type Client interface {
	room.API
	eta.Fetcher
	UpdateLocation(ctx context.Context, eventID int64, guestToken string, lat, lng float64) error
}

type Logger interface {
	Printf(format string, args ...any)
}

type Deps struct {
	Client    Client
	Store     membership.Store
	Transport realtime.Transport
	Source    tracking.Source
	Hub       *stream.Hub
	Config    config.Config
	UserID    string
	Logger    Logger
	Now       func() time.Time
}

// Session is the one live room of the agent: event state, push subscription,
// location watch and ETA loop. Open and Close bound their lifetime; at most
// one of each is live at a time.
type Session struct {
	room    *room.Room
	channel *realtime.Channel
	tracker *tracking.Tracker
	poller  *eta.Poller
	hub     *stream.Hub
	userID  string
	spec    string
	logger  Logger

	eventID atomic.Int64

	mu          sync.Mutex
	cron        *cron.Cron
	unsubscribe func()

	syncMu sync.Mutex
}

func New(deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg := deps.Config

	s := &Session{
		hub:    deps.Hub,
		userID: deps.UserID,
		spec:   cfg.WindowRecheckSpec,
		logger: deps.Logger,
	}
	if s.spec == "" {
		s.spec = "@every 1m"
	}

	s.room = room.New(deps.Client, deps.Store, room.Options{
		ArrivalThresholdM: cfg.ArrivalThresholdM,
		EndedPromptDelay:  cfg.EventEndedPromptDelay(),
		Now:               deps.Now,
		Logger:            deps.Logger,
		Notifier:          s,
	})
	s.channel = realtime.NewChannel(deps.Transport, deps.Logger)
	s.tracker = tracking.New(deps.Source, Reporter(deps.Client, s.room), PolicyFrom(cfg),
		tracking.WithClock(deps.Now),
		tracking.WithReportTimeout(cfg.HTTPTimeout()),
		tracking.WithErrorHandler(s.trackingFailed),
		tracking.WithLogger(s.logger),
	)
	s.poller = eta.NewPoller(deps.Client, eta.Options{
		Interval:         cfg.ETAUpdateInterval(),
		FailureThreshold: cfg.ETAFailureThreshold,
		Timeout:          cfg.HTTPTimeout(),
		Logger:           deps.Logger,
		OnUpdate:         func(snap eta.Snapshot) { s.room.SetETA(snap) },
	})
	return s
}

// PolicyFrom builds the tracking policy, keeping defaults for unset values.
func PolicyFrom(cfg config.Config) tracking.Policy {
	p := tracking.DefaultPolicy()
	if d := cfg.LocationMinInterval(); d > 0 {
		p.MinInterval = d
	}
	if cfg.LocationMinDistanceM > 0 {
		p.MinDistanceM = cfg.LocationMinDistanceM
	}
	if d := cfg.LocationMaxSilence(); d > 0 {
		p.MaxSilence = d
	}
	if d := cfg.TransitRefreshInterval(); d > 0 {
		p.TransitInterval = d
	}
	if d := cfg.TrackingBeforeMargin(); d > 0 {
		p.BeforeMargin = d
	}
	if d := cfg.TrackingAfterMargin(); d > 0 {
		p.AfterMargin = d
	}
	return p
}

// Open loads eventID and starts its subscription, watch and ETA loop after
// tearing down whatever the previous event had running. A failed push
// subscription is retried by the periodic re-check.
func (s *Session) Open(ctx context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()
	if err := s.room.Load(ctx, eventID, s.userID); err != nil {
		return err
	}
	s.eventID.Store(eventID)

	s.bind(ctx, eventID)
	s.unsubscribe = s.room.Subscribe(s.onView)

	c := cron.New()
	if _, err := c.AddFunc(s.spec, s.Recheck); err != nil {
		s.closeLocked()
		return err
	}
	c.Start()
	s.cron = c

	v := s.room.View()
	s.broadcast(eventID, "room", v)
	s.apply(v)
	return nil
}

// Close releases everything the open event holds. Safe to call repeatedly.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	s.eventID.Store(0)
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.channel.Unbind()

	s.syncMu.Lock()
	s.tracker.Stop()
	s.poller.Stop()
	s.syncMu.Unlock()
	s.room.Close()
}

// Recheck re-evaluates the tracking window and ETA eligibility, and retries
// the push subscription if it is down.
func (s *Session) Recheck() {
	s.mu.Lock()
	eventID := s.eventID.Load()
	if eventID == 0 {
		s.mu.Unlock()
		return
	}
	if bound, ok := s.channel.Bound(); !ok || bound != eventID {
		s.bind(context.Background(), eventID)
	}
	s.mu.Unlock()

	s.apply(s.room.View())
}

func (s *Session) bind(ctx context.Context, eventID int64) {
	if err := s.channel.Bind(ctx, eventID, s.room.Handlers()); err != nil {
		s.logger.Printf("[realtime] subscribe %s: %v", realtime.ChannelName(eventID), err)
	}
}

func (s *Session) onView(v room.View) {
	if v.Event == nil || v.Event.ID != s.eventID.Load() {
		return
	}
	s.broadcast(v.Event.ID, "room", v)
	s.apply(v)
}

// apply drives the tracker and the poller from a view.
func (s *Session) apply(v room.View) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if v.Event == nil || v.Event.ID != s.eventID.Load() {
		return
	}
	ended := v.IsEventEnded

	// Errors are reported through the tracker's error handler.
	_, _ = s.tracker.Sync(ParamsFor(v))
	s.poller.Sync(v.Event.ID, v.Event.HasMeetingPoint() && !ended)
}

// ParamsFor derives the tracking preconditions from a view.
func ParamsFor(v room.View) tracking.Params {
	if v.Event == nil {
		return tracking.Params{}
	}
	p := tracking.Params{
		EventID:   v.Event.ID,
		Enabled:   !v.IsEventEnded,
		HasJoined: v.Viewer.HasJoined,
		StartTime: v.Event.StartTime,
		EndTime:   v.Event.EndTime,
	}
	for _, m := range v.Members {
		if m.ID == v.Viewer.MemberID && v.Viewer.HasJoined {
			p.ShareLocation = m.ShareLocation
			p.TravelMode = m.TravelMode
			break
		}
	}
	return p
}

func (s *Session) broadcast(eventID int64, frameType string, data any) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(realtime.ChannelName(eventID), frameType, data); err != nil {
		s.logger.Printf("[agent] publish %s frame: %v", frameType, err)
	}
}

func (s *Session) EventID() int64 {
	return s.eventID.Load()
}

func (s *Session) Room() *room.Room {
	return s.room
}

func (s *Session) Tracker() *tracking.Tracker {
	return s.tracker
}

func (s *Session) Poller() *eta.Poller {
	return s.poller
}

func (s *Session) Channel() *realtime.Channel {
	return s.channel
}
