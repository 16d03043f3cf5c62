package tracking

import (
	"errors"
	"time"

	"meethalf/internal/event"
	"meethalf/internal/shared/geo"
)

var (
	ErrUnavailable      = errors.New("geolocation unavailable")
	ErrPermissionDenied = errors.New("geolocation permission denied")
	ErrOutsideWindow    = errors.New("outside tracking window")
)

type Position struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func (p Position) Point() geo.Point {
	return geo.Point{Lat: p.Lat, Lng: p.Lng}
}

// Params describe the tracking session the caller wants right now.
type Params struct {
	EventID       int64
	Enabled       bool
	ShareLocation bool
	HasJoined     bool
	StartTime     time.Time
	EndTime       time.Time
	TravelMode    event.TravelMode
}

func (p Params) ready() bool {
	return p.Enabled && p.ShareLocation && p.HasJoined && p.EventID != 0
}

func (p Params) sameSession(o Params) bool {
	return p.EventID == o.EventID && p.StartTime.Equal(o.StartTime) && p.EndTime.Equal(o.EndTime)
}

// Policy is the combined throttle: a sample is sent only once the minimum
// interval has elapsed since the last successful send AND the device moved at
// least MinDistanceM, or MaxSilence has passed without a send.
type Policy struct {
	MinInterval     time.Duration
	MinDistanceM    float64
	MaxSilence      time.Duration
	TransitInterval time.Duration
	BeforeMargin    time.Duration
	AfterMargin     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MinInterval:     30 * time.Second,
		MinDistanceM:    10,
		MaxSilence:      2 * time.Minute,
		TransitInterval: time.Minute,
		BeforeMargin:    30 * time.Minute,
		AfterMargin:     30 * time.Minute,
	}
}

func (p Policy) Window(start, end time.Time) (time.Time, time.Time) {
	return start.Add(-p.BeforeMargin), end.Add(p.AfterMargin)
}

func (p Policy) InWindow(now, start, end time.Time) bool {
	from, to := p.Window(start, end)
	return !now.Before(from) && !now.After(to)
}

func (p Policy) interval(mode event.TravelMode) time.Duration {
	if mode == event.TravelTransit && p.TransitInterval > 0 {
		return p.TransitInterval
	}
	return p.MinInterval
}

type sample struct {
	pos Position
	at  time.Time
}

func (p Policy) shouldTransmit(last *sample, pos Position, now time.Time, mode event.TravelMode) bool {
	if last == nil {
		return true
	}
	elapsed := now.Sub(last.at)
	if elapsed < p.interval(mode) {
		return false
	}
	if p.MinDistanceM <= 0 {
		return true
	}
	if geo.HaversineMeters(last.pos.Point(), pos.Point()) >= p.MinDistanceM {
		return true
	}
	return p.MaxSilence > 0 && elapsed >= p.MaxSilence
}
