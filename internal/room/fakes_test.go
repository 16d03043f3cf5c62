package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meethalf/internal/api"
	"meethalf/internal/event"
	"meethalf/internal/membership"
	"meethalf/internal/realtime"
)

type fakeAPI struct {
	mu         sync.Mutex
	ev         event.Event
	getErr     error
	joinResp   api.JoinResponse
	joinErr    error
	arrival    api.ArrivalResponse
	arrivalErr error
	pokeCount  int
	pokeErr    error

	joins    []api.JoinRequest
	arrivals []string
	pokes    []int64
	gets     int
}

func (f *fakeAPI) GetEvent(_ context.Context, eventID int64) (event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return event.Event{}, f.getErr
	}
	if eventID != f.ev.ID {
		return event.Event{}, &api.Error{Status: 404, Message: "event not found"}
	}
	ev := f.ev
	ev.Members = append([]event.Member(nil), f.ev.Members...)
	return ev, nil
}

func (f *fakeAPI) Join(_ context.Context, _ int64, req api.JoinRequest) (api.JoinResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, req)
	if f.joinErr != nil {
		return api.JoinResponse{}, f.joinErr
	}
	f.ev.Members = append(f.ev.Members, f.joinResp.Member)
	return f.joinResp, nil
}

func (f *fakeAPI) MarkArrival(_ context.Context, _ int64, guestToken string) (api.ArrivalResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arrivals = append(f.arrivals, guestToken)
	return f.arrival, f.arrivalErr
}

func (f *fakeAPI) Poke(_ context.Context, _ int64, _ string, target int64) (api.PokeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pokes = append(f.pokes, target)
	return api.PokeResponse{PokeCount: f.pokeCount}, f.pokeErr
}

type memStore struct {
	mu      sync.Mutex
	records map[int64]membership.Record
}

func newMemStore() *memStore {
	return &memStore{records: map[int64]membership.Record{}}
}

func (s *memStore) Get(_ context.Context, eventID int64) (membership.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[eventID]
	if !ok {
		return membership.Record{}, membership.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) Save(_ context.Context, rec membership.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.records[rec.EventID]; ok && old.ArrivalTime != nil {
		rec.ArrivalTime = old.ArrivalTime
	}
	s.records[rec.EventID] = rec
	return nil
}

func (s *memStore) Delete(_ context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, eventID)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	pokes []realtime.Poke
	ended chan View
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ended: make(chan View, 4)}
}

func (n *fakeNotifier) Poked(p realtime.Poke) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pokes = append(n.pokes, p)
}

func (n *fakeNotifier) EventEnded(v View) {
	n.ended <- v
}

func (n *fakeNotifier) pokeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pokes)
}

type logSink struct {
	mu    sync.Mutex
	lines []string
}

func (l *logSink) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func ptr[T any](v T) *T { return &v }

var now = time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC)

func baseEvent() event.Event {
	return event.Event{
		ID:        1,
		Name:      "Hotpot",
		Status:    event.StatusOngoing,
		StartTime: now.Add(-30 * time.Minute),
		EndTime:   now.Add(90 * time.Minute),
		MeetingPoint: &event.MeetingPoint{
			Lat:  25.0,
			Lng:  121.5,
			Name: "Taipei Main Station",
		},
		OwnerID: "owner",
	}
}

type harness struct {
	api      *fakeAPI
	store    *memStore
	notifier *fakeNotifier
	logs     *logSink
	room     *Room
}

func newHarness(ev event.Event) *harness {
	h := &harness{
		api:      &fakeAPI{ev: ev},
		store:    newMemStore(),
		notifier: newFakeNotifier(),
		logs:     &logSink{},
	}
	h.room = New(h.api, h.store, Options{
		ArrivalThresholdM: 100,
		EndedPromptDelay:  10 * time.Millisecond,
		Now:               func() time.Time { return now },
		Logger:            h.logs,
		Notifier:          h.notifier,
	})
	return h
}
