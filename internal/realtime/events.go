package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"meethalf/internal/event"
)

type EventType string

const (
	TypeMemberJoined   EventType = "member-joined"
	TypeMemberArrived  EventType = "member-arrived"
	TypeLocationUpdate EventType = "location-update"
	TypePoke           EventType = "poke"
	TypeEventEnded     EventType = "event-ended"
)

// Envelope is one push frame: a type tag plus its JSON payload.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

func NewEnvelope(t EventType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Data: data}, nil
}

type MemberJoined struct {
	MemberID      int64            `json:"memberId"`
	Nickname      string           `json:"nickname"`
	ShareLocation bool             `json:"shareLocation"`
	TravelMode    event.TravelMode `json:"travelMode"`
	UserID        *string          `json:"userId,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

type MemberArrived struct {
	MemberID    int64     `json:"memberId"`
	ArrivalTime time.Time `json:"arrivalTime"`
	Nickname    string    `json:"nickname"`
	Status      string    `json:"status"`
}

type LocationUpdate struct {
	MemberID int64   `json:"memberId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type Poke struct {
	FromMemberID int64  `json:"fromMemberId"`
	ToMemberID   int64  `json:"toMemberId"`
	FromNickname string `json:"fromNickname"`
	Count        int    `json:"count"`
}

type EventEnded struct {
	EventID int64      `json:"eventId"`
	EndedAt *time.Time `json:"endedAt,omitempty"`
}

// ChannelName is the push channel carrying one event's updates.
func ChannelName(eventID int64) string {
	return fmt.Sprintf("event-%d", eventID)
}
