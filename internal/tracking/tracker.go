package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ReportFunc sends one accepted sample to the backend.
type ReportFunc func(ctx context.Context, eventID int64, pos Position) error

type Option func(*Tracker)

type Logger interface {
	Printf(format string, args ...any)
}

func WithLogger(l Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithErrorHandler receives geolocation and transmission failures.
func WithErrorHandler(fn func(error)) Option {
	return func(t *Tracker) { t.onError = fn }
}

func WithReportTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.reportTimeout = d
		}
	}
}

// Tracker decides when the device position is sampled and sent. It holds at
// most one platform watch at a time.
type Tracker struct {
	source        Source
	report        ReportFunc
	policy        Policy
	now           func() time.Time
	onError       func(error)
	logger        Logger
	reportTimeout time.Duration

	mu      sync.Mutex
	watch   Watch
	gen     uint64
	params  Params
	last    *sample
	sending bool
	denied  bool
}

func New(source Source, report ReportFunc, policy Policy, opts ...Option) *Tracker {
	t := &Tracker{
		source:        source,
		report:        report,
		policy:        policy,
		now:           time.Now,
		reportTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = log.Default()
	}
	if t.onError == nil {
		t.onError = func(err error) { t.logger.Printf("[tracker] %v", err) }
	}
	return t
}

// Sync reconciles the platform watch with p. It stops the watch when any
// precondition is false, and starts one only when the current time is inside
// the tracking window. Callers re-invoke Sync to re-check the window later.
func (t *Tracker) Sync(p Params) (bool, error) {
	t.mu.Lock()

	if !p.ready() {
		t.stopLocked()
		t.params = p
		t.mu.Unlock()
		return false, nil
	}

	now := t.now()
	inWindow := t.policy.InWindow(now, p.StartTime, p.EndTime)

	if t.watch != nil && t.params.sameSession(p) {
		if !inWindow {
			t.stopLocked()
			t.mu.Unlock()
			return false, ErrOutsideWindow
		}
		t.params = p
		t.mu.Unlock()
		return true, nil
	}

	t.stopLocked()
	if p.EventID != t.params.EventID {
		t.last = nil
	}
	t.params = p

	if !inWindow {
		t.mu.Unlock()
		return false, ErrOutsideWindow
	}
	if t.denied {
		t.mu.Unlock()
		return false, ErrPermissionDenied
	}
	if t.source == nil {
		t.mu.Unlock()
		t.onError(ErrUnavailable)
		return false, ErrUnavailable
	}

	gen := t.gen
	w, err := t.source.Watch(
		func(pos Position) { t.handle(gen, pos) },
		func(err error) { t.handleError(gen, err) },
	)
	if err != nil {
		t.denied = errors.Is(err, ErrPermissionDenied)
		t.mu.Unlock()
		t.onError(err)
		return false, err
	}
	t.watch = w
	t.mu.Unlock()
	return true, nil
}

// Stop releases the platform watch. Safe to call repeatedly.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// ResetPermission lets the next Sync ask the source again after a
// permission denial. Denials are reported once, not retried on every Sync.
func (t *Tracker) ResetPermission() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.denied = false
}

func (t *Tracker) Watching() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watch != nil
}

func (t *Tracker) stopLocked() {
	t.gen++
	if t.watch == nil {
		return
	}
	t.watch.Stop()
	t.watch = nil
}

func (t *Tracker) handle(gen uint64, pos Position) {
	t.mu.Lock()
	if gen != t.gen || t.watch == nil {
		t.mu.Unlock()
		return
	}

	now := t.now()
	if _, end := t.policy.Window(t.params.StartTime, t.params.EndTime); now.After(end) {
		eventID := t.params.EventID
		t.stopLocked()
		t.mu.Unlock()
		t.logger.Printf("[tracker] event %d tracking window closed", eventID)
		return
	}
	if t.sending || !t.policy.shouldTransmit(t.last, pos, now, t.params.TravelMode) {
		t.mu.Unlock()
		return
	}
	t.sending = true
	eventID := t.params.EventID
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.reportTimeout)
	err := t.report(ctx, eventID, pos)
	cancel()

	t.mu.Lock()
	t.sending = false
	if err == nil && gen == t.gen {
		t.last = &sample{pos: pos, at: now}
	}
	t.mu.Unlock()

	if err != nil {
		t.onError(fmt.Errorf("update location: %w", err))
	}
}

func (t *Tracker) handleError(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	if errors.Is(err, ErrPermissionDenied) {
		t.denied = true
		t.stopLocked()
	}
	t.mu.Unlock()
	t.onError(err)
}
