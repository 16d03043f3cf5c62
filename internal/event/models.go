package event

import (
	"time"

	"meethalf/internal/shared/geo"
)

type TravelMode string

const (
	TravelDriving   TravelMode = "driving"
	TravelTransit   TravelMode = "transit"
	TravelWalking   TravelMode = "walking"
	TravelBicycling TravelMode = "bicycling"
)

func (m TravelMode) Valid() bool {
	switch m {
	case TravelDriving, TravelTransit, TravelWalking, TravelBicycling:
		return true
	}
	return false
}

type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusOngoing  Status = "ongoing"
	StatusEnded    Status = "ended"
)

// rank orders statuses so transitions can only move forward.
func (s Status) rank() int {
	switch s {
	case StatusOngoing:
		return 1
	case StatusEnded:
		return 2
	}
	return 0
}

// Advance returns whichever of s and next is further along upcoming→ongoing→ended.
func (s Status) Advance(next Status) Status {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

type MeetingPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Name    string  `json:"name"`
	Address string  `json:"address"`
}

func (m MeetingPoint) Point() geo.Point {
	return geo.Point{Lat: m.Lat, Lng: m.Lng}
}

type Member struct {
	ID            int64      `json:"id"`
	UserID        *string    `json:"userId,omitempty"`
	Nickname      string     `json:"nickname"`
	ShareLocation bool       `json:"shareLocation"`
	TravelMode    TravelMode `json:"travelMode"`
	Lat           *float64   `json:"lat,omitempty"`
	Lng           *float64   `json:"lng,omitempty"`
	ArrivalTime   *time.Time `json:"arrivalTime,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (m Member) HasArrived() bool {
	return m.ArrivalTime != nil
}

// Position reports the member's last known coordinates, if any.
func (m Member) Position() (geo.Point, bool) {
	if m.Lat == nil || m.Lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *m.Lat, Lng: *m.Lng}, true
}

type Event struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	StartTime    time.Time     `json:"startTime"`
	EndTime      time.Time     `json:"endTime"`
	MeetingPoint *MeetingPoint `json:"meetingPoint,omitempty"`
	OwnerID      string        `json:"ownerId"`
	Members      []Member      `json:"members"`
}

func (e Event) HasMeetingPoint() bool {
	return e.MeetingPoint != nil
}
