package membership

import (
	"context"
	"errors"
	"time"

	"meethalf/internal/event"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("membership not found")

// Record is the device-local proof that this device joined an event. It lets
// a returning guest be recognised without joining again.
type Record struct {
	EventID       int64            `json:"eventId"`
	MemberID      int64            `json:"memberId"`
	UserID        *string          `json:"userId,omitempty"`
	Nickname      string           `json:"nickname"`
	ShareLocation bool             `json:"shareLocation"`
	TravelMode    event.TravelMode `json:"travelMode"`
	GuestToken    string           `json:"guestToken,omitempty"`
	ArrivalTime   *time.Time       `json:"arrivalTime,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Store persists one record per (device, event). Save never clears an
// arrival time that is already stored.
type Store interface {
	Get(ctx context.Context, eventID int64) (Record, error)
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, eventID int64) error
}

var newDeviceID = uuid.NewString

func stamp(rec Record, now time.Time) Record {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return rec
}
