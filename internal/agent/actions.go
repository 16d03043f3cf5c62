package agent

import (
	"context"

	"meethalf/internal/api"
	"meethalf/internal/room"
)

func (s *Session) View() (room.View, error) {
	if s.eventID.Load() == 0 {
		return room.View{}, ErrNotOpen
	}
	return s.room.View(), nil
}

func (s *Session) Join(ctx context.Context, in room.JoinInput) (room.View, error) {
	if s.eventID.Load() == 0 {
		return room.View{}, ErrNotOpen
	}
	if err := s.room.Join(ctx, in); err != nil {
		return room.View{}, err
	}
	return s.room.View(), nil
}

func (s *Session) MarkArrival(ctx context.Context) (api.ArrivalResponse, error) {
	if s.eventID.Load() == 0 {
		return api.ArrivalResponse{}, ErrNotOpen
	}
	return s.room.MarkArrival(ctx)
}

func (s *Session) Poke(ctx context.Context, targetMemberID int64) (int, error) {
	if s.eventID.Load() == 0 {
		return 0, ErrNotOpen
	}
	return s.room.Poke(ctx, targetMemberID)
}

// PermissionChanged is called when the platform location permission flips.
// A grant clears the remembered denial and retries the watch right away.
func (s *Session) PermissionChanged(granted bool) {
	if !granted {
		return
	}
	s.tracker.ResetPermission()
	s.Recheck()
}
