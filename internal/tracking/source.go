package tracking

import "sync"

// Source is the platform location provider. Callbacks must not be invoked
// before Watch returns, and never after the returned Watch is stopped.
type Source interface {
	Watch(onPosition func(Position), onError func(error)) (Watch, error)
}

type Watch interface {
	Stop()
}

// FeedSource is a Source fed by pushed samples, e.g. positions posted by the
// local UI from the browser's geolocation API.
type FeedSource struct {
	mu       sync.Mutex
	next     int
	watchers map[int]*feedWatch
	denied   bool
}

func NewFeedSource() *FeedSource {
	return &FeedSource{watchers: map[int]*feedWatch{}}
}

func (s *FeedSource) Watch(onPosition func(Position), onError func(error)) (Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denied {
		return nil, ErrPermissionDenied
	}
	s.next++
	w := &feedWatch{id: s.next, source: s, onPosition: onPosition, onError: onError}
	s.watchers[w.id] = w
	return w, nil
}

// Push delivers a sample to every live watch and reports how many got it.
func (s *FeedSource) Push(p Position) int {
	watchers := s.snapshot()
	for _, w := range watchers {
		w.onPosition(p)
	}
	return len(watchers)
}

func (s *FeedSource) Fail(err error) {
	for _, w := range s.snapshot() {
		w.onError(err)
	}
}

// SetPermission records the platform permission state. Revoking it fails
// every live watch with ErrPermissionDenied.
func (s *FeedSource) SetPermission(granted bool) {
	s.mu.Lock()
	s.denied = !granted
	s.mu.Unlock()
	if !granted {
		s.Fail(ErrPermissionDenied)
	}
}

func (s *FeedSource) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func (s *FeedSource) snapshot() []*feedWatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*feedWatch, 0, len(s.watchers))
	for _, w := range s.watchers {
		out = append(out, w)
	}
	return out
}

type feedWatch struct {
	id         int
	source     *FeedSource
	onPosition func(Position)
	onError    func(error)
}

func (w *feedWatch) Stop() {
	w.source.mu.Lock()
	delete(w.source.watchers, w.id)
	w.source.mu.Unlock()
}
