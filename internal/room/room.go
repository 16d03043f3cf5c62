package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"meethalf/internal/api"
	"meethalf/internal/event"
	"meethalf/internal/membership"
	"meethalf/internal/realtime"
)

type API interface {
	GetEvent(ctx context.Context, eventID int64) (event.Event, error)
	Join(ctx context.Context, eventID int64, req api.JoinRequest) (api.JoinResponse, error)
	MarkArrival(ctx context.Context, eventID int64, guestToken string) (api.ArrivalResponse, error)
	Poke(ctx context.Context, eventID int64, guestToken string, targetMemberID int64) (api.PokeResponse, error)
}

// Notifier surfaces user-visible alerts.
type Notifier interface {
	Poked(p realtime.Poke)
	EventEnded(v View)
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	ArrivalThresholdM float64
	EndedPromptDelay  time.Duration
	Now               func() time.Time
	Logger            Logger
	Notifier          Notifier
}

// Room owns the in-memory state of one event as seen by one viewer. REST
// snapshots, the viewer's own actions and push events all merge into it;
// none of them can move a member backwards.
type Room struct {
	api   API
	store membership.Store
	opts  Options

	mu          sync.Mutex
	ev          *event.Event
	members     []event.Member
	viewer      Viewer
	userID      string
	eta         map[int64]api.Estimate
	early       map[int64]earlyPush
	endedPrompt *time.Timer

	pubMu     sync.Mutex
	listeners map[int]func(View)
	nextID    int
}

func New(client API, store membership.Store, opts Options) *Room {
	if opts.ArrivalThresholdM <= 0 {
		opts.ArrivalThresholdM = 100
	}
	if opts.EndedPromptDelay <= 0 {
		opts.EndedPromptDelay = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Room{
		api:       client,
		store:     store,
		opts:      opts,
		eta:       map[int64]api.Estimate{},
		early:     map[int64]earlyPush{},
		listeners: map[int]func(View){},
	}
}

// Load fetches the event and resolves whether this device already joined it,
// first from the local membership record, then by the signed-in user id.
func (r *Room) Load(ctx context.Context, eventID int64, userID string) error {
	ev, err := r.api.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return fmt.Errorf("event %d: %w", eventID, ErrNotFound)
		}
		return fmt.Errorf("load event %d: %w", eventID, err)
	}

	rec, hasRecord := r.localRecord(ctx, eventID)

	r.mu.Lock()
	if r.ev == nil || r.ev.ID != eventID {
		r.resetLocked()
	}
	r.userID = userID
	r.applySnapshotLocked(ev)
	r.resolveViewerLocked(rec, hasRecord)
	stale := hasRecord && r.findLocked(rec.MemberID) == nil
	r.mu.Unlock()

	if stale {
		r.dropRecord(ctx, eventID, rec.MemberID)
	}
	r.publish()
	return nil
}

// dropRecord removes a local record whose member the event no longer lists.
func (r *Room) dropRecord(ctx context.Context, eventID, memberID int64) {
	if err := r.store.Delete(ctx, eventID); err != nil {
		r.opts.Logger.Printf("[room] drop stale membership for event %d: %v", eventID, err)
		return
	}
	r.opts.Logger.Printf("[room] dropped stale membership for event %d (member %d)", eventID, memberID)
}

// Refresh re-fetches the loaded event and merges it in.
func (r *Room) Refresh(ctx context.Context) error {
	eventID := r.EventID()
	if eventID == 0 {
		return ErrNotLoaded
	}
	ev, err := r.api.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return fmt.Errorf("event %d: %w", eventID, ErrNotFound)
		}
		return fmt.Errorf("refresh event %d: %w", eventID, err)
	}

	r.mu.Lock()
	if r.ev == nil || r.ev.ID != eventID {
		r.mu.Unlock()
		return nil
	}
	r.applySnapshotLocked(ev)
	r.mu.Unlock()

	r.publish()
	return nil
}

func (r *Room) localRecord(ctx context.Context, eventID int64) (membership.Record, bool) {
	if r.store == nil {
		return membership.Record{}, false
	}
	rec, err := r.store.Get(ctx, eventID)
	if err != nil {
		if !errors.Is(err, membership.ErrNotFound) {
			r.opts.Logger.Printf("[room] read membership for event %d: %v", eventID, err)
		}
		return membership.Record{}, false
	}
	return rec, true
}

func (r *Room) resetLocked() {
	if r.endedPrompt != nil {
		r.endedPrompt.Stop()
		r.endedPrompt = nil
	}
	r.ev = nil
	r.members = nil
	r.viewer = Viewer{}
	r.eta = map[int64]api.Estimate{}
	r.early = map[int64]earlyPush{}
}

// applySnapshotLocked merges a REST snapshot. A known arrival time is never
// replaced, positions survive a stale snapshot that lacks them, members seen
// only via push are kept, and the status only moves forward.
func (r *Room) applySnapshotLocked(ev event.Event) {
	prev := make(map[int64]event.Member, len(r.members))
	for _, m := range r.members {
		prev[m.ID] = m
	}

	members := make([]event.Member, 0, len(ev.Members))
	seen := make(map[int64]bool, len(ev.Members))
	for _, m := range ev.Members {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if old, ok := prev[m.ID]; ok {
			if old.ArrivalTime != nil {
				m.ArrivalTime = old.ArrivalTime
			}
			if m.Lat == nil || m.Lng == nil {
				m.Lat, m.Lng = old.Lat, old.Lng
			}
		}
		r.claimEarlyLocked(&m, false)
		members = append(members, m)
	}
	for _, m := range r.members {
		if !seen[m.ID] {
			members = append(members, m)
		}
	}

	if r.ev != nil && r.ev.ID == ev.ID {
		ev.Status = r.ev.Status.Advance(ev.Status)
	}
	ev.Members = nil
	r.ev = &ev
	r.members = members
	sortMembers(r.members)
}

func (r *Room) resolveViewerLocked(rec membership.Record, hasRecord bool) {
	if r.viewer.HasJoined && r.findLocked(r.viewer.MemberID) != nil {
		r.syncArrivedLocked()
		return
	}
	r.viewer = Viewer{}

	if hasRecord {
		if m := r.findLocked(rec.MemberID); m != nil {
			r.viewer = Viewer{
				MemberID:   rec.MemberID,
				HasJoined:  true,
				HasArrived: rec.ArrivalTime != nil,
				GuestToken: rec.GuestToken,
			}
			r.syncArrivedLocked()
			return
		}
	}

	if r.userID != "" {
		for _, m := range r.members {
			if m.UserID != nil && *m.UserID == r.userID {
				r.viewer = Viewer{MemberID: m.ID, HasJoined: true}
				r.syncArrivedLocked()
				return
			}
		}
	}
}

func (r *Room) syncArrivedLocked() {
	if m := r.findLocked(r.viewer.MemberID); m != nil && m.HasArrived() {
		r.viewer.HasArrived = true
	}
}

func (r *Room) findLocked(memberID int64) *event.Member {
	for i := range r.members {
		if r.members[i].ID == memberID {
			return &r.members[i]
		}
	}
	return nil
}

// SetETA replaces the ETA snapshot shown in the view.
func (r *Room) SetETA(snapshot map[int64]api.Estimate) {
	next := make(map[int64]api.Estimate, len(snapshot))
	for k, v := range snapshot {
		next[k] = v
	}
	r.mu.Lock()
	r.eta = next
	r.mu.Unlock()
	r.publish()
}

func (r *Room) EventID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ev == nil {
		return 0
	}
	return r.ev.ID
}

func (r *Room) Viewer() Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewer
}

// View derives the display state from the current members and event.
func (r *Room) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *Room) viewLocked() View {
	v := View{
		Members: append([]event.Member(nil), r.members...),
		Viewer:  r.viewer,
		ETA:     make(map[int64]api.Estimate, len(r.eta)),
	}
	for k, e := range r.eta {
		v.ETA[k] = e
	}
	if r.ev == nil {
		return v
	}
	ev := *r.ev
	v.Event = &ev

	if r.viewer.HasJoined {
		v.DistanceToMeetingPoint = DistanceToMeetingPoint(r.findLocked(r.viewer.MemberID), ev.MeetingPoint)
	}
	v.CanMarkArrival = CanMarkArrival(v.DistanceToMeetingPoint, r.opts.ArrivalThresholdM)
	v.IsEventEnded = IsEventEnded(&ev, r.opts.Now())
	return v
}

// Subscribe registers fn for every view change. fn must not mutate the room.
func (r *Room) Subscribe(fn func(View)) func() {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = fn
	return func() {
		r.pubMu.Lock()
		defer r.pubMu.Unlock()
		delete(r.listeners, id)
	}
}

func (r *Room) publish() {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	if len(r.listeners) == 0 {
		return
	}
	v := r.View()
	for _, fn := range r.listeners {
		fn(v)
	}
}

// Close stops the pending results prompt, if any.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endedPrompt != nil {
		r.endedPrompt.Stop()
		r.endedPrompt = nil
	}
}
