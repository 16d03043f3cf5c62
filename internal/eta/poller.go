package eta

import (
	"context"
	"log"
	"sync"
	"time"

	"meethalf/internal/api"
)

type Fetcher interface {
	ETA(ctx context.Context, eventID int64) (api.ETAResponse, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

// Snapshot maps memberId to the latest estimate. Members without an estimate
// are absent.
type Snapshot map[int64]api.Estimate

type Options struct {
	Interval         time.Duration
	FailureThreshold int
	Timeout          time.Duration
	Logger           Logger
	IsNetworkError   func(error) bool
	OnUpdate         func(Snapshot)
}

// Poller keeps the ETA snapshot of one event fresh. A failed poll keeps the
// previous snapshot; repeated network failures are logged quietly.
type Poller struct {
	fetcher Fetcher
	opts    Options

	mu       sync.Mutex
	snapshot Snapshot
	failures int
	eventID  int64
	cancel   context.CancelFunc
}

func NewPoller(fetcher Fetcher, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.IsNetworkError == nil {
		opts.IsNetworkError = api.IsNetworkError
	}
	return &Poller{fetcher: fetcher, opts: opts, snapshot: Snapshot{}}
}

// Sync runs the loop for eventID while eligible (the event has a meeting
// point) and stops it otherwise. A changed event restarts the loop and drops
// the previous event's snapshot.
func (p *Poller) Sync(eventID int64, eligible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !eligible || eventID == 0 {
		p.stopLocked()
		return
	}
	if p.cancel != nil && p.eventID == eventID {
		return
	}
	p.stopLocked()
	if p.eventID != eventID {
		p.snapshot = Snapshot{}
		p.failures = 0
	}
	p.eventID = eventID

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx, eventID)
}

func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Snapshot returns a copy of the latest successful poll.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(Snapshot, len(p.snapshot))
	for k, v := range p.snapshot {
		out[k] = v
	}
	return out
}

// stopLocked cancels the loop without waiting for it; a cancelled loop never
// writes the snapshot again, so it is safe to call from OnUpdate.
func (p *Poller) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
}

func (p *Poller) loop(ctx context.Context, eventID int64) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.poll(ctx, eventID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, eventID)
		}
	}
}

func (p *Poller) poll(ctx context.Context, eventID int64) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	resp, err := p.fetcher.ETA(fetchCtx, eventID)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.recordFailure(ctx, eventID, err)
		return
	}

	next := make(Snapshot, len(resp.Members))
	for _, m := range resp.Members {
		if m.ETA != nil {
			next[m.MemberID] = *m.ETA
		}
	}

	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.snapshot = next
	p.failures = 0
	onUpdate := p.opts.OnUpdate
	p.mu.Unlock()

	if onUpdate != nil {
		onUpdate(next)
	}
}

func (p *Poller) recordFailure(ctx context.Context, eventID int64, err error) {
	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	if !p.opts.IsNetworkError(err) {
		p.failures = 0
		p.mu.Unlock()
		p.opts.Logger.Printf("[eta] event %d: %v", eventID, err)
		return
	}
	p.failures++
	n := p.failures
	p.mu.Unlock()

	switch {
	case n == 1:
		p.opts.Logger.Printf("[eta] event %d: backend unreachable: %v", eventID, err)
	case n > p.opts.FailureThreshold:
		p.opts.Logger.Printf("[eta] event %d: backend unreachable (%d consecutive failures): %v", eventID, n, err)
	}
}
