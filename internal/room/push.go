package room

import (
	"context"
	"time"

	"meethalf/internal/event"
	"meethalf/internal/realtime"
)

// Handlers binds the room's merge operations to a realtime channel.
func (r *Room) Handlers() realtime.Handlers {
	return realtime.Handlers{
		MemberJoined:   r.ApplyMemberJoined,
		MemberArrived:  r.ApplyMemberArrived,
		LocationUpdate: r.ApplyLocationUpdate,
		Poke:           r.ApplyPoke,
		EventEnded:     r.ApplyEventEnded,
	}
}

// ApplyMemberJoined adds the member unless it is already known.
func (r *Room) ApplyMemberJoined(p realtime.MemberJoined) {
	r.mu.Lock()
	if r.ev == nil || r.findLocked(p.MemberID) != nil {
		r.mu.Unlock()
		return
	}
	m := event.Member{
		ID:            p.MemberID,
		UserID:        p.UserID,
		Nickname:      p.Nickname,
		ShareLocation: p.ShareLocation,
		TravelMode:    p.TravelMode,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.CreatedAt,
	}
	r.claimEarlyLocked(&m, true)
	r.members = append(r.members, m)
	sortMembers(r.members)
	r.mu.Unlock()

	r.publish()
}

// earlyPush holds arrival and position pushes for a member the room has not
// seen join yet. The transport does not order event types against each
// other, so they are applied once the member shows up.
type earlyPush struct {
	arrival  *time.Time
	lat, lng *float64
}

// claimEarlyLocked folds held pushes into m. Held positions replace the
// member's own only when overwrite is set or m has none.
func (r *Room) claimEarlyLocked(m *event.Member, overwrite bool) {
	e, ok := r.early[m.ID]
	if !ok {
		return
	}
	delete(r.early, m.ID)
	if e.arrival != nil && m.ArrivalTime == nil {
		at := *e.arrival
		m.ArrivalTime = &at
		m.UpdatedAt = at
	}
	if e.lat != nil && (overwrite || m.Lat == nil || m.Lng == nil) {
		m.Lat, m.Lng = e.lat, e.lng
	}
}

// ApplyMemberArrived records the first arrival time seen for the member.
// Later deliveries never change it.
func (r *Room) ApplyMemberArrived(p realtime.MemberArrived) {
	r.mu.Lock()
	if r.ev == nil {
		r.mu.Unlock()
		return
	}
	m := r.findLocked(p.MemberID)
	if m == nil {
		e := r.early[p.MemberID]
		if e.arrival == nil {
			at := p.ArrivalTime
			e.arrival = &at
			r.early[p.MemberID] = e
		}
		r.mu.Unlock()
		r.opts.Logger.Printf("[room] holding arrival for member %d until it joins", p.MemberID)
		return
	}

	changed := false
	if m.ArrivalTime == nil {
		at := p.ArrivalTime
		m.ArrivalTime = &at
		m.UpdatedAt = at
		sortMembers(r.members)
		changed = true
	}

	self := r.viewer.HasJoined && p.MemberID == r.viewer.MemberID
	var arrival time.Time
	if self {
		if !r.viewer.HasArrived {
			r.viewer.HasArrived = true
			changed = true
		}
		arrival = *r.findLocked(p.MemberID).ArrivalTime
	}
	eventID := r.ev.ID
	r.mu.Unlock()

	if self {
		r.persistArrival(context.Background(), eventID, arrival)
	}
	if changed {
		r.publish()
	}
}

// ApplyLocationUpdate overwrites the member's position; latest wins.
func (r *Room) ApplyLocationUpdate(p realtime.LocationUpdate) {
	r.mu.Lock()
	if r.ev == nil {
		r.mu.Unlock()
		return
	}
	lat, lng := p.Lat, p.Lng
	m := r.findLocked(p.MemberID)
	if m == nil {
		e := r.early[p.MemberID]
		e.lat, e.lng = &lat, &lng
		r.early[p.MemberID] = e
		r.mu.Unlock()
		return
	}
	m.Lat, m.Lng = &lat, &lng
	r.mu.Unlock()

	r.publish()
}

// ApplyEventEnded marks the event ended for good and schedules the results
// prompt once.
func (r *Room) ApplyEventEnded(realtime.EventEnded) {
	r.mu.Lock()
	if r.ev == nil {
		r.mu.Unlock()
		return
	}
	r.ev.Status = event.StatusEnded
	if r.endedPrompt == nil {
		eventID := r.ev.ID
		r.endedPrompt = time.AfterFunc(r.opts.EndedPromptDelay, func() {
			r.promptResults(eventID)
		})
	}
	r.mu.Unlock()

	r.publish()
}

func (r *Room) promptResults(eventID int64) {
	r.mu.Lock()
	if r.ev == nil || r.ev.ID != eventID {
		r.mu.Unlock()
		return
	}
	v := r.viewLocked()
	r.mu.Unlock()

	if r.opts.Notifier != nil {
		r.opts.Notifier.EventEnded(v)
	}
}

// ApplyPoke alerts the viewer only when the poke is addressed to them.
func (r *Room) ApplyPoke(p realtime.Poke) {
	r.mu.Lock()
	forMe := r.viewer.HasJoined && p.ToMemberID == r.viewer.MemberID
	r.mu.Unlock()

	if !forMe {
		r.opts.Logger.Printf("[room] poke %d -> %d (x%d)", p.FromMemberID, p.ToMemberID, p.Count)
		return
	}
	if r.opts.Notifier != nil {
		r.opts.Notifier.Poked(p)
	}
}
