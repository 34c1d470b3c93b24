package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Repository persists audit entries in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert appends an entry.
func (r *Repository) Insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	var sessionID any
	if e.SessionID != "" {
		sessionID = e.SessionID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, attendee_id, session_id, reason, device_id,
			latitude, longitude, accuracy_m, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.AttendeeID, sessionID, e.Reason, e.DeviceID,
		e.Location.Latitude, e.Location.Longitude, e.Location.AccuracyM, e.Details, e.At)
	return err
}

// ListBySession returns the newest entries for a session.
func (r *Repository) ListBySession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, attendee_id, COALESCE(session_id::text, ''), reason, device_id,
			latitude, longitude, accuracy_m, details, created_at
		FROM audit_entries
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AttendeeID, &e.SessionID, &e.Reason, &e.DeviceID,
			&e.Location.Latitude, &e.Location.Longitude, &e.Location.AccuracyM, &e.Details, &e.At); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
