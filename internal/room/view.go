package room

import (
	"sort"
	"time"

	"meethalf/internal/api"
	"meethalf/internal/event"
	"meethalf/internal/shared/geo"
)

type Viewer struct {
	MemberID   int64  `json:"memberId"`
	HasJoined  bool   `json:"hasJoined"`
	HasArrived bool   `json:"hasArrived"`
	GuestToken string `json:"-"`
}

// View is the derived, display-ready state of the room.
type View struct {
	Event                  *event.Event           `json:"event"`
	Members                []event.Member         `json:"members"`
	Viewer                 Viewer                 `json:"viewer"`
	DistanceToMeetingPoint *float64               `json:"distanceToMeetingPoint"`
	CanMarkArrival         bool                   `json:"canMarkArrival"`
	IsEventEnded           bool                   `json:"isEventEnded"`
	ETA                    map[int64]api.Estimate `json:"eta"`
}

// sortMembers puts arrived members first, then members sharing their
// location, keeping the relative order of ties.
func sortMembers(members []event.Member) {
	sort.SliceStable(members, func(i, j int) bool {
		return memberRank(members[i]) < memberRank(members[j])
	})
}

func memberRank(m event.Member) int {
	switch {
	case m.HasArrived():
		return 0
	case m.ShareLocation:
		return 1
	}
	return 2
}

// DistanceToMeetingPoint is the haversine distance in meters between the
// viewer and the meeting point, or nil when either position is unknown.
func DistanceToMeetingPoint(me *event.Member, mp *event.MeetingPoint) *float64 {
	if me == nil || mp == nil {
		return nil
	}
	pos, ok := me.Position()
	if !ok {
		return nil
	}
	d := geo.HaversineMeters(pos, mp.Point())
	return &d
}

// CanMarkArrival reports whether distance is known and within the arrival
// radius. The radius is inclusive.
func CanMarkArrival(distance *float64, thresholdM float64) bool {
	return distance != nil && *distance <= thresholdM
}

func IsEventEnded(ev *event.Event, now time.Time) bool {
	if ev == nil {
		return false
	}
	if ev.Status == event.StatusEnded {
		return true
	}
	return !ev.EndTime.IsZero() && now.After(ev.EndTime)
}
