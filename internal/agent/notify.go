package agent

import (
	"context"
	"errors"

	"meethalf/internal/realtime"
	"meethalf/internal/room"
	"meethalf/internal/tracking"
)

// Poked forwards a poke addressed to the viewer to the local UI.
func (s *Session) Poked(p realtime.Poke) {
	eventID := s.eventID.Load()
	if eventID == 0 {
		return
	}
	s.broadcast(eventID, string(realtime.TypePoke), p)
}

// EventEnded asks the local UI to show the results.
func (s *Session) EventEnded(v room.View) {
	if v.Event == nil {
		return
	}
	s.broadcast(v.Event.ID, string(realtime.TypeEventEnded), v)
}

// Reporter sends sampled positions as the viewer and mirrors each accepted
// one into the room.
func Reporter(client Client, r *room.Room) tracking.ReportFunc {
	return func(ctx context.Context, eventID int64, pos tracking.Position) error {
		viewer := r.Viewer()
		if !viewer.HasJoined {
			return room.ErrNotJoined
		}
		if err := client.UpdateLocation(ctx, eventID, viewer.GuestToken, pos.Lat, pos.Lng); err != nil {
			return err
		}
		r.ApplyLocationUpdate(realtime.LocationUpdate{
			MemberID: viewer.MemberID,
			Lat:      pos.Lat,
			Lng:      pos.Lng,
		})
		return nil
	}
}

// trackingFailed logs sampling failures. A permission denial is also shown
// to the UI; the tracker reports it once until permission is granted again.
func (s *Session) trackingFailed(err error) {
	s.logger.Printf("[tracker] %v", err)
	eventID := s.eventID.Load()
	if eventID == 0 || !errors.Is(err, tracking.ErrPermissionDenied) {
		return
	}
	s.broadcast(eventID, "permission-denied", map[string]string{"error": err.Error()})
}
