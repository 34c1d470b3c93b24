package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/audit"
	"rollcall/internal/geo"
	"rollcall/internal/notify"
	"rollcall/internal/session"
)

// SessionResolver finds the session currently displaying a token. A nil
// session (with nil error) means no session holds the token.
type SessionResolver interface {
	ByToken(ctx context.Context, token string) (*session.Session, error)
}

// RecordStore persists presence records. Insert must enforce the two
// uniqueness invariants atomically and return ErrDuplicateAttendee or
// ErrDuplicateDevice when a concurrent claim won the race.
type RecordStore interface {
	Find(ctx context.Context, sessionID, attendeeID string) (*Record, error)
	DeviceUsed(ctx context.Context, sessionID, deviceID, exceptAttendeeID string) (bool, error)
	Insert(ctx context.Context, rec *Record) error
}

// Auditor records rejected claims, best-effort.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// Publisher broadcasts acceptance events.
type Publisher interface {
	Publish(e notify.Event)
}

// StaleTokens reports whether a token was recently rotated out.
type StaleTokens interface {
	Recent(ctx context.Context, token string) bool
}

// Config tunes the validation rules.
type Config struct {
	BaseRadiusM     float64
	GeofenceEnabled bool
	PresentWithin   time.Duration
	LateWithin      time.Duration
}

// Pipeline turns a claim into exactly one accept or reject decision. Rules
// run in a strict order and the first failure alone determines the reason.
type Pipeline struct {
	sessions SessionResolver
	records  RecordStore
	auditor  Auditor
	hub      Publisher
	stale    StaleTokens
	cfg      Config
	now      func() time.Time
}

// NewPipeline wires the validation pipeline. stale may be nil.
func NewPipeline(sessions SessionResolver, records RecordStore, auditor Auditor, hub Publisher, stale StaleTokens, cfg Config) *Pipeline {
	if cfg.PresentWithin <= 0 {
		cfg.PresentWithin = 5 * time.Minute
	}
	if cfg.LateWithin <= 0 {
		cfg.LateWithin = 15 * time.Minute
	}
	return &Pipeline{
		sessions: sessions,
		records:  records,
		auditor:  auditor,
		hub:      hub,
		stale:    stale,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Submit evaluates a claim. The returned error is infrastructure-only; a
// rejected claim is a normal Outcome, already written to the audit log.
func (p *Pipeline) Submit(ctx context.Context, c Claim) (Outcome, error) {
	now := p.now()

	// rule 1: the token must resolve to an active session
	s, err := p.sessions.ByToken(ctx, c.Token)
	if err != nil {
		return Outcome{}, err
	}
	if s == nil {
		if p.stale != nil && p.stale.Recent(ctx, c.Token) {
			return p.reject(ctx, c, "", ReasonExpiredQR, "token rotated out"), nil
		}
		return p.reject(ctx, c, "", ReasonInvalidQR, "token does not resolve to a session"), nil
	}
	if !s.IsActive {
		return p.reject(ctx, c, s.ID, ReasonInvalidQR, "session already ended"), nil
	}

	// rule 2: only the latest, unexpired credential counts
	if c.Token != s.CurrentToken || now.After(s.TokenExpiresAt) {
		return p.reject(ctx, c, s.ID, ReasonExpiredQR, "credential is no longer the latest"), nil
	}

	// rule 3: the attendance window must still be open
	if !now.Before(s.WindowEnd) {
		return p.reject(ctx, c, s.ID, ReasonWindowClosed, "attendance window has closed"), nil
	}

	// rule 4: one record per attendee per session
	existing, err := p.records.Find(ctx, s.ID, c.AttendeeID)
	if err != nil {
		return Outcome{}, err
	}
	if existing != nil {
		return p.reject(ctx, c, s.ID, ReasonDuplicateAttendance, "attendee already marked"), nil
	}

	// rule 5: one accepted claim per device per session
	used, err := p.records.DeviceUsed(ctx, s.ID, c.DeviceID, c.AttendeeID)
	if err != nil {
		return Outcome{}, err
	}
	if used {
		return p.reject(ctx, c, s.ID, ReasonDuplicateDevice, "device already used by another attendee"), nil
	}

	// rule 6: geofence
	distance := geo.Distance(c.Location, s.Anchor)
	effective := geo.EffectiveRadius(p.cfg.BaseRadiusM, c.Location, s.Anchor)
	if p.cfg.GeofenceEnabled && distance > effective {
		details := fmt.Sprintf("distance %.1fm exceeds effective radius %.1fm", distance, effective)
		return p.reject(ctx, c, s.ID, ReasonGPSOutOfRange, details), nil
	}

	// rule 7: lateness classification
	elapsed := now.Sub(s.StartTime)
	var status Status
	switch {
	case elapsed <= p.cfg.PresentWithin:
		status = StatusPresent
	case elapsed <= p.cfg.LateWithin:
		status = StatusLate
	default:
		details := fmt.Sprintf("claim arrived %s after session start", elapsed.Round(time.Second))
		return p.reject(ctx, c, s.ID, ReasonLateRejected, details), nil
	}

	rec := &Record{
		ID:         uuid.NewString(),
		SessionID:  s.ID,
		AttendeeID: c.AttendeeID,
		ClassID:    s.ClassID,
		Status:     status,
		DeviceID:   c.DeviceID,
		DistanceM:  distance,
		Location:   c.Location,
		Suspicious: p.cfg.GeofenceEnabled && distance > 0.8*effective,
		MarkedAt:   now,
	}
	switch err := p.records.Insert(ctx, rec); {
	case err == nil:
	case errors.Is(err, ErrDuplicateAttendee):
		return p.reject(ctx, c, s.ID, ReasonDuplicateAttendance, "lost insert race to a concurrent claim"), nil
	case errors.Is(err, ErrDuplicateDevice):
		return p.reject(ctx, c, s.ID, ReasonDuplicateDevice, "lost insert race to a concurrent claim"), nil
	default:
		// failing to persist an accepted claim is fatal to the request;
		// a retry deterministically lands on DUPLICATE_ATTENDANCE at worst
		return Outcome{}, err
	}

	p.hub.Publish(notify.Event{
		Kind:      notify.KindPresenceAccepted,
		SessionID: s.ID,
		Data: notify.PresenceAccepted{
			AttendeeID: c.AttendeeID,
			Status:     string(status),
			DistanceM:  distance,
			MarkedAt:   rec.MarkedAt,
		},
	})
	return Outcome{Accepted: true, Status: status, DistanceM: distance, Suspicious: rec.Suspicious}, nil
}

func (p *Pipeline) reject(ctx context.Context, c Claim, sessionID string, reason Reason, details string) Outcome {
	p.auditor.Record(ctx, audit.Entry{
		AttendeeID: c.AttendeeID,
		SessionID:  sessionID,
		Reason:     string(reason),
		DeviceID:   c.DeviceID,
		Location:   c.Location,
		Details:    details,
		At:         p.now(),
	})
	return Outcome{Reason: reason}
}
