package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meethalf/internal/api"
	"meethalf/internal/event"
	"meethalf/internal/membership"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type JoinInput struct {
	Nickname      string           `json:"nickname" validate:"required"`
	ShareLocation bool             `json:"shareLocation"`
	TravelMode    event.TravelMode `json:"travelMode" validate:"required,oneof=driving transit walking bicycling"`
}

func (in JoinInput) normalize() (JoinInput, error) {
	in.Nickname = strings.TrimSpace(in.Nickname)
	if in.TravelMode == "" {
		in.TravelMode = event.TravelDriving
	}
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Nickname" {
			return in, ErrNicknameRequired
		}
		return in, ErrInvalidTravelMode
	}
	return in, nil
}

// Join registers the viewer as a member. On success the membership record is
// stored locally and the event is re-fetched for the authoritative list.
func (r *Room) Join(ctx context.Context, in JoinInput) error {
	in, err := in.normalize()
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.ev == nil {
		r.mu.Unlock()
		return ErrNotLoaded
	}
	if r.viewer.HasJoined {
		r.mu.Unlock()
		return ErrAlreadyJoined
	}
	eventID := r.ev.ID
	userID := r.userID
	r.mu.Unlock()

	resp, err := r.api.Join(ctx, eventID, api.JoinRequest{
		Nickname:      in.Nickname,
		ShareLocation: in.ShareLocation,
		TravelMode:    in.TravelMode,
	})
	if err != nil {
		return fmt.Errorf("join event %d: %w", eventID, err)
	}

	member := resp.Member
	if member.Nickname == "" {
		member.Nickname = in.Nickname
		member.ShareLocation = in.ShareLocation
		member.TravelMode = in.TravelMode
	}

	r.mu.Lock()
	if r.ev == nil || r.ev.ID != eventID {
		r.mu.Unlock()
		return nil
	}
	r.viewer = Viewer{MemberID: member.ID, HasJoined: true, GuestToken: resp.GuestToken}
	if r.findLocked(member.ID) == nil {
		r.members = append(r.members, member)
		sortMembers(r.members)
	}
	r.mu.Unlock()

	if member.UserID == nil && userID != "" {
		member.UserID = &userID
	}
	r.saveRecord(ctx, membership.Record{
		EventID:       eventID,
		MemberID:      member.ID,
		UserID:        member.UserID,
		Nickname:      member.Nickname,
		ShareLocation: member.ShareLocation,
		TravelMode:    member.TravelMode,
		GuestToken:    resp.GuestToken,
		ArrivalTime:   member.ArrivalTime,
	})

	r.publish()
	if err := r.Refresh(ctx); err != nil {
		r.opts.Logger.Printf("[room] refresh after join: %v", err)
	}
	return nil
}

// MarkArrival reports the viewer as arrived. It requires a joined viewer who
// has not arrived yet and is within the arrival radius.
func (r *Room) MarkArrival(ctx context.Context) (api.ArrivalResponse, error) {
	r.mu.Lock()
	if r.ev == nil {
		r.mu.Unlock()
		return api.ArrivalResponse{}, ErrNotLoaded
	}
	v := r.viewLocked()
	eventID := r.ev.ID
	r.mu.Unlock()

	switch {
	case !v.Viewer.HasJoined:
		return api.ArrivalResponse{}, ErrNotJoined
	case v.Viewer.HasArrived:
		return api.ArrivalResponse{}, ErrAlreadyArrived
	case !v.CanMarkArrival:
		return api.ArrivalResponse{}, ErrTooFar
	}

	resp, err := r.api.MarkArrival(ctx, eventID, v.Viewer.GuestToken)
	if err != nil {
		return api.ArrivalResponse{}, fmt.Errorf("mark arrival for event %d: %w", eventID, err)
	}
	arrival := resp.ArrivalTime
	if arrival.IsZero() {
		arrival = r.opts.Now()
	}

	r.mu.Lock()
	if r.ev == nil || r.ev.ID != eventID {
		r.mu.Unlock()
		return resp, nil
	}
	r.viewer.HasArrived = true
	if m := r.findLocked(v.Viewer.MemberID); m != nil {
		if m.ArrivalTime == nil {
			at := arrival
			m.ArrivalTime = &at
			sortMembers(r.members)
		} else {
			arrival = *m.ArrivalTime
		}
	}
	r.mu.Unlock()

	r.persistArrival(ctx, eventID, arrival)
	r.publish()
	if err := r.Refresh(ctx); err != nil {
		r.opts.Logger.Printf("[room] refresh after arrival: %v", err)
	}
	return resp, nil
}

// Poke nudges a member who has not arrived yet. Only an arrived viewer can
// poke, and never themselves. Returns the server's running poke count.
func (r *Room) Poke(ctx context.Context, targetMemberID int64) (int, error) {
	r.mu.Lock()
	if r.ev == nil {
		r.mu.Unlock()
		return 0, ErrNotLoaded
	}
	viewer := r.viewer
	eventID := r.ev.ID
	target := r.findLocked(targetMemberID)
	var targetArrived bool
	if target != nil {
		targetArrived = target.HasArrived()
	}
	r.mu.Unlock()

	switch {
	case !viewer.HasJoined:
		return 0, ErrNotJoined
	case target == nil:
		return 0, ErrUnknownMember
	case !viewer.HasArrived, targetArrived, targetMemberID == viewer.MemberID:
		return 0, ErrPokeNotAllowed
	}

	resp, err := r.api.Poke(ctx, eventID, viewer.GuestToken, targetMemberID)
	if err != nil {
		return 0, fmt.Errorf("poke member %d: %w", targetMemberID, err)
	}
	return resp.PokeCount, nil
}

func (r *Room) saveRecord(ctx context.Context, rec membership.Record) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, rec); err != nil {
		r.opts.Logger.Printf("[room] save membership for event %d: %v", rec.EventID, err)
	}
}

// persistArrival copies the arrival time into the local membership record so
// it never disagrees with the room.
func (r *Room) persistArrival(ctx context.Context, eventID int64, arrival time.Time) {
	if r.store == nil {
		return
	}
	rec, err := r.store.Get(ctx, eventID)
	if err != nil {
		if !errors.Is(err, membership.ErrNotFound) {
			r.opts.Logger.Printf("[room] read membership for event %d: %v", eventID, err)
		}
		return
	}
	if rec.ArrivalTime != nil {
		return
	}
	rec.ArrivalTime = &arrival
	r.saveRecord(ctx, rec)
}
