package session

import (
	"errors"
	"time"

	"rollcall/internal/geo"
)

// Window bounds applied to the requested attendance window, in minutes.
const (
	MinWindowMinutes = 1
	MaxWindowMinutes = 30
)

var (
	// ErrActiveSessionExists means the class already has a live session.
	ErrActiveSessionExists = errors.New("class already has an active session")
	// ErrNotFound means the session id is unknown.
	ErrNotFound = errors.New("session not found")
	// ErrNotPresenter means the caller does not own the session.
	ErrNotPresenter = errors.New("caller is not the session presenter")
)

// Phase is the lifecycle phase of a session, recomputed on read so every
// component agrees without repeating time arithmetic.
type Phase string

const (
	// PhaseOpen accepts claims and rotates credentials.
	PhaseOpen Phase = "open"
	// PhaseWindowClosed no longer accepts claims or rotates, but the
	// session has not been explicitly ended yet.
	PhaseWindowClosed Phase = "window_closed"
	// PhaseEnded is terminal.
	PhaseEnded Phase = "ended"
)

// Session is a bounded, class-scoped, location-anchored check-in window.
type Session struct {
	ID             string       `json:"id"`
	ClassID        string       `json:"class_id"`
	PresenterID    string       `json:"presenter_id"`
	CurrentToken   string       `json:"-"`
	TokenExpiresAt time.Time    `json:"token_expires_at"`
	StartTime      time.Time    `json:"start_time"`
	WindowEnd      time.Time    `json:"window_end"`
	EndTime        *time.Time   `json:"end_time,omitempty"`
	Anchor         geo.Location `json:"anchor"`
	IsActive       bool         `json:"is_active"`
	AcceptedCount  int          `json:"accepted_count"`
}

// PhaseAt derives the lifecycle phase at the given instant.
func (s *Session) PhaseAt(now time.Time) Phase {
	if !s.IsActive {
		return PhaseEnded
	}
	if !now.Before(s.WindowEnd) {
		return PhaseWindowClosed
	}
	return PhaseOpen
}

// ClampWindow bounds a requested window length to the allowed range.
func ClampWindow(minutes int) time.Duration {
	if minutes < MinWindowMinutes {
		minutes = MinWindowMinutes
	}
	if minutes > MaxWindowMinutes {
		minutes = MaxWindowMinutes
	}
	return time.Duration(minutes) * time.Minute
}
