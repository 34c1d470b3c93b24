package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists sessions in Postgres. The one-active-session-per-class
// invariant is a partial unique index, so two racing starts resolve in the
// database, not here.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, class_id, presenter_id, current_token, token_expires_at,
	start_time, window_end, end_time, latitude, longitude, accuracy_m, is_active, accepted_count`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var endTime sql.NullTime
	err := row.Scan(&s.ID, &s.ClassID, &s.PresenterID, &s.CurrentToken, &s.TokenExpiresAt,
		&s.StartTime, &s.WindowEnd, &endTime,
		&s.Anchor.Latitude, &s.Anchor.Longitude, &s.Anchor.AccuracyM,
		&s.IsActive, &s.AcceptedCount)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}
	return &s, nil
}

// Create inserts a new session. Returns ErrActiveSessionExists when the
// class already has an active one.
func (r *Repository) Create(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, class_id, presenter_id, current_token, token_expires_at,
			start_time, window_end, latitude, longitude, accuracy_m, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,TRUE)
	`, s.ID, s.ClassID, s.PresenterID, s.CurrentToken, s.TokenExpiresAt,
		s.StartTime, s.WindowEnd, s.Anchor.Latitude, s.Anchor.Longitude, s.Anchor.AccuracyM)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "sessions_one_active_per_class" {
		return ErrActiveSessionExists
	}
	return err
}

// Get returns a session by id or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ByToken resolves the session currently displaying the token, or nil when
// no session holds it.
func (r *Repository) ByToken(ctx context.Context, token string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE current_token = $1`, token)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// RotateToken replaces the current credential, but only while the session is
// active and its window is still open. The liveness check and the write are
// one statement so a tick racing end() cannot resurrect the session.
// Returns the displaced token and whether the rotation took effect.
func (r *Repository) RotateToken(ctx context.Context, id, token string, expiresAt time.Time) (string, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions s SET current_token = $2, token_expires_at = $3
		FROM (SELECT id, current_token AS prev FROM sessions WHERE id = $1 FOR UPDATE) old
		WHERE s.id = old.id AND s.is_active AND s.window_end > NOW()
		RETURNING old.prev
	`, id, token, expiresAt)
	var prev string
	if err := row.Scan(&prev); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return prev, true, nil
}

// End deactivates the session. Returns false when it was already inactive,
// which makes repeated ends and sweep races no-ops.
func (r *Repository) End(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE, end_time = NOW()
		WHERE id = $1 AND is_active
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ExpireBefore force-ends every active session whose window closed before
// the deadline and returns their ids.
func (r *Repository) ExpireBefore(ctx context.Context, deadline time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE sessions SET is_active = FALSE, end_time = NOW()
		WHERE is_active AND window_end < $1
		RETURNING id
	`, deadline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
