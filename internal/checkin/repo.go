package checkin

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists presence records in Postgres. The (session, attendee)
// and (session, device) invariants are unique indexes; this repo translates
// their violations into the duplicate sentinels so two racing claims resolve
// to exactly one acceptance.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, session_id, attendee_id, class_id, status, device_id,
	distance_m, latitude, longitude, accuracy_m, suspicious, is_manual, marked_at`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.AttendeeID, &rec.ClassID, &rec.Status, &rec.DeviceID,
		&rec.DistanceM, &rec.Location.Latitude, &rec.Location.Longitude, &rec.Location.AccuracyM,
		&rec.Suspicious, &rec.IsManual, &rec.MarkedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func translateDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "presence_one_per_attendee":
			return ErrDuplicateAttendee
		case "presence_one_per_device":
			return ErrDuplicateDevice
		}
	}
	return err
}

// UpsertDevice ensures a device record exists before it may claim.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// Find returns the record for (session, attendee), or nil when none exists.
func (r *Repository) Find(ctx context.Context, sessionID, attendeeID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM presence_records
		WHERE session_id = $1 AND attendee_id = $2
	`, sessionID, attendeeID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// DeviceUsed reports whether another attendee already produced an accepted
// (non-manual) claim with this device in the session.
func (r *Repository) DeviceUsed(ctx context.Context, sessionID, deviceID, exceptAttendeeID string) (bool, error) {
	var used bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM presence_records
			WHERE session_id = $1 AND device_id = $2 AND attendee_id <> $3 AND NOT is_manual
		)
	`, sessionID, deviceID, exceptAttendeeID).Scan(&used)
	return used, err
}

// Insert writes an accepted record and bumps the session counter in one
// transaction. Constraint violations come back as the duplicate sentinels.
func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO presence_records (id, session_id, attendee_id, class_id, status, device_id,
			distance_m, latitude, longitude, accuracy_m, suspicious, is_manual, marked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,FALSE,$12)
	`, rec.ID, rec.SessionID, rec.AttendeeID, rec.ClassID, rec.Status, rec.DeviceID,
		rec.DistanceM, rec.Location.Latitude, rec.Location.Longitude, rec.Location.AccuracyM,
		rec.Suspicious, rec.MarkedAt)
	if err != nil {
		return translateDuplicate(err)
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE sessions SET accepted_count = accepted_count + 1 WHERE id = $1
	`, rec.SessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetManualStatus applies a presenter override. An existing record changes
// status in place (never a delete-and-reinsert, so uniqueness holds); a
// missing record is created only for a non-absent status. The session's
// accepted_count moves by the signed delta across the absent boundary.
// Returns the resulting record, or nil when clearing an attendee who never
// had a record.
func (r *Repository) SetManualStatus(ctx context.Context, sessionID, attendeeID, classID string, status Status) (*Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM presence_records
		WHERE session_id = $1 AND attendee_id = $2
		FOR UPDATE
	`, sessionID, attendeeID)
	rec, err := scanRecord(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec = nil
	case err != nil:
		return nil, err
	}

	now := time.Now().UTC()
	delta := 0
	if rec == nil {
		if status == StatusAbsent {
			// nothing to clear
			return nil, tx.Commit()
		}
		rec = &Record{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			AttendeeID: attendeeID,
			ClassID:    classID,
			Status:     status,
			DeviceID:   ManualDeviceID,
			IsManual:   true,
			MarkedAt:   now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO presence_records (id, session_id, attendee_id, class_id, status, device_id, is_manual, marked_at)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
		`, rec.ID, sessionID, attendeeID, classID, status, ManualDeviceID, now); err != nil {
			return nil, translateDuplicate(err)
		}
		delta = 1
	} else {
		wasAccepted := rec.Status != StatusAbsent
		isAccepted := status != StatusAbsent
		switch {
		case isAccepted && !wasAccepted:
			delta = 1
		case !isAccepted && wasAccepted:
			delta = -1
		}
		rec.Status = status
		rec.IsManual = true
		rec.MarkedAt = now
		if _, err := tx.ExecContext(ctx, `
			UPDATE presence_records SET status = $3, is_manual = TRUE, marked_at = $4
			WHERE session_id = $1 AND attendee_id = $2
		`, sessionID, attendeeID, status, now); err != nil {
			return nil, err
		}
	}

	if delta != 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET accepted_count = accepted_count + $2 WHERE id = $1
		`, sessionID, delta); err != nil {
			return nil, err
		}
	}
	return rec, tx.Commit()
}

// ListBySession returns all records for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM presence_records
		WHERE session_id = $1
		ORDER BY marked_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}
	return res, rows.Err()
}

// Tally counts records per status for a session.
func (r *Repository) Tally(ctx context.Context, sessionID string) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM presence_records
		WHERE session_id = $1
		GROUP BY status
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tally := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		tally[st] = n
	}
	return tally, rows.Err()
}
