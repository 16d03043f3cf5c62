package api

import (
	"time"

	"meethalf/internal/event"
)

type JoinRequest struct {
	Nickname      string           `json:"nickname"`
	ShareLocation bool             `json:"shareLocation"`
	TravelMode    event.TravelMode `json:"travelMode"`
}

type JoinResponse struct {
	Member     event.Member `json:"member"`
	GuestToken string       `json:"guestToken,omitempty"`
}

type ArrivalResponse struct {
	ArrivalTime time.Time `json:"arrivalTime"`
	Status      string    `json:"status"`
	LateMinutes *int      `json:"lateMinutes,omitempty"`
}

type LocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type PokeRequest struct {
	TargetMemberID int64 `json:"targetMemberId"`
}

type PokeResponse struct {
	PokeCount int `json:"pokeCount"`
}

// Estimate is one member's travel estimate to the meeting point.
// Duration is in seconds, Distance in meters.
type Estimate struct {
	Duration int `json:"duration"`
	Distance int `json:"distance"`
}

type MemberETA struct {
	MemberID int64     `json:"memberId"`
	ETA      *Estimate `json:"eta"`
}

type ETAResponse struct {
	Members []MemberETA `json:"members"`
}
