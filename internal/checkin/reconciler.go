package checkin

import (
	"context"

	"rollcall/internal/notify"
	"rollcall/internal/session"
)

// SessionGetter loads a session by id.
type SessionGetter interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// ManualStore applies presenter overrides to presence records.
type ManualStore interface {
	SetManualStatus(ctx context.Context, sessionID, attendeeID, classID string, status Status) (*Record, error)
}

// Reconciler is the presenter's escape hatch around the pipeline: it sets a
// final status directly, with no token, device or geofence checks, in any
// session phase.
type Reconciler struct {
	sessions SessionGetter
	records  ManualStore
	hub      Publisher
}

// NewReconciler wires the manual override path.
func NewReconciler(sessions SessionGetter, records ManualStore, hub Publisher) *Reconciler {
	return &Reconciler{sessions: sessions, records: records, hub: hub}
}

// SetStatus overrides an attendee's status. Only the session's presenter may
// call it. Returns the resulting record, or nil when clearing an attendee
// who had none.
func (r *Reconciler) SetStatus(ctx context.Context, sessionID, presenterID, attendeeID string, status Status) (*Record, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	s, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.PresenterID != presenterID {
		return nil, session.ErrNotPresenter
	}
	rec, err := r.records.SetManualStatus(ctx, sessionID, attendeeID, s.ClassID, status)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Status != StatusAbsent {
		r.hub.Publish(notify.Event{
			Kind:      notify.KindPresenceAccepted,
			SessionID: sessionID,
			Data: notify.PresenceAccepted{
				AttendeeID: attendeeID,
				Status:     string(rec.Status),
				DistanceM:  rec.DistanceM,
				MarkedAt:   rec.MarkedAt,
				IsManual:   true,
			},
		})
	}
	return rec, nil
}
