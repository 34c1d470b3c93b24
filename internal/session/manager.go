package session

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/geo"
	"rollcall/internal/metrics"
	"rollcall/internal/notify"
)

// Store is the session persistence needed by the lifecycle manager.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	RotateToken(ctx context.Context, id, token string, expiresAt time.Time) (prev string, ok bool, err error)
	End(ctx context.Context, id string) (bool, error)
	ExpireBefore(ctx context.Context, deadline time.Time) ([]string, error)
}

// Publisher broadcasts session events.
type Publisher interface {
	Publish(e notify.Event)
}

// Config tunes credential rotation and the sweep deadline.
type Config struct {
	RotateEvery time.Duration
	TokenTTL    time.Duration
	SweepGrace  time.Duration
}

// Manager owns the session lifecycle: it creates sessions, drives credential
// rotation, and ends sessions explicitly or through the sweep.
type Manager struct {
	store Store
	sched *Scheduler
	hub   Publisher
	stale *StaleTokens
	cfg   Config
	now   func() time.Time
}

// NewManager wires the lifecycle manager. stale may be nil when no Redis is
// available; rotated-out tokens then reject as invalid instead of expired.
func NewManager(store Store, hub Publisher, stale *StaleTokens, cfg Config) *Manager {
	if cfg.RotateEvery <= 0 {
		cfg.RotateEvery = 30 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 60 * time.Second
	}
	if cfg.SweepGrace <= 0 {
		cfg.SweepGrace = 10 * time.Minute
	}
	return &Manager{
		store: store,
		sched: NewScheduler(),
		hub:   hub,
		stale: stale,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Start opens a session for the class, issues the first credential and
// begins rotation. Fails with ErrActiveSessionExists when the class already
// has a live session.
func (m *Manager) Start(ctx context.Context, classID, presenterID string, anchor geo.Location, windowMinutes int) (*Session, error) {
	now := m.now()
	s := &Session{
		ID:             uuid.NewString(),
		ClassID:        classID,
		PresenterID:    presenterID,
		CurrentToken:   NewToken(),
		TokenExpiresAt: now.Add(m.cfg.TokenTTL),
		StartTime:      now,
		WindowEnd:      now.Add(ClampWindow(windowMinutes)),
		Anchor:         anchor,
		IsActive:       true,
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}
	m.sched.Start(s.ID, m.cfg.RotateEvery, func(tctx context.Context) bool {
		return m.rotate(tctx, s.ID)
	})
	return s, nil
}

// rotate is one scheduler tick. Returning false stops the task.
func (m *Manager) rotate(ctx context.Context, id string) bool {
	token := NewToken()
	expiresAt := m.now().Add(m.cfg.TokenTTL)
	prev, ok, err := m.store.RotateToken(ctx, id, token, expiresAt)
	if err != nil {
		log.Printf("rotation for session %s failed: %v", id, err)
		return true
	}
	if !ok {
		// the guarded update refused: either ended, or the window closed
		// while the session is still active
		if s, gerr := m.store.Get(ctx, id); gerr == nil && s.IsActive {
			m.hub.Publish(notify.Event{Kind: notify.KindWindowClosed, SessionID: id})
		}
		return false
	}
	m.stale.Park(ctx, prev, id)
	metrics.Rotations.Inc()
	m.hub.Publish(notify.Event{
		Kind:      notify.KindCredentialRotated,
		SessionID: id,
		Data:      notify.CredentialRotated{Token: token, ExpiresAt: expiresAt},
	})
	return true
}

// End deactivates the session and cancels its rotation. Only the owning
// presenter may end a session. Ending an already-ended session is a no-op.
func (m *Manager) End(ctx context.Context, id, presenterID string) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.PresenterID != presenterID {
		return ErrNotPresenter
	}
	ended, err := m.store.End(ctx, id)
	if err != nil {
		return err
	}
	m.sched.Cancel(id)
	if ended {
		m.hub.Publish(notify.Event{Kind: notify.KindSessionEnded, SessionID: id})
	}
	return nil
}

// Sweep force-ends every session whose hard deadline (window end plus grace)
// has passed, and returns the ids it ended. Safe to run concurrently with
// claims and with itself; a second run finds nothing to do.
func (m *Manager) Sweep(ctx context.Context) ([]string, error) {
	ids, err := m.store.ExpireBefore(ctx, m.now().Add(-m.cfg.SweepGrace))
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		m.sched.Cancel(id)
		m.hub.Publish(notify.Event{Kind: notify.KindSessionEnded, SessionID: id})
	}
	return ids, nil
}

// Shutdown cancels all rotation tasks.
func (m *Manager) Shutdown() {
	m.sched.CancelAll()
}
