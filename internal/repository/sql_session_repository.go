package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/robotask-client/internal/models"
)

const sessionSchema = `CREATE TABLE IF NOT EXISTS client_sessions (
    profile TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    saved_at TIMESTAMP NOT NULL
)`

// SQLSessionRepository stores one session row per profile. It runs on the
// sqlite and postgres drivers; queries are written with ? and rebound.
type SQLSessionRepository struct {
	db      *sqlx.DB
	profile string
}

// NewSQLSessionRepository constructs the repository.
func NewSQLSessionRepository(db *sqlx.DB, profile string) *SQLSessionRepository {
	if profile == "" {
		profile = "default"
	}
	return &SQLSessionRepository{db: db, profile: profile}
}

// EnsureSchema creates the sessions table when missing.
func (r *SQLSessionRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sessionSchema); err != nil {
		return fmt.Errorf("create client_sessions: %w", err)
	}
	return nil
}

// Save upserts the session row in a single statement.
func (r *SQLSessionRepository) Save(ctx context.Context, session *models.Session) error {
	stampSession(session)
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}
	query := r.db.Rebind(`INSERT INTO client_sessions (profile, payload, saved_at) VALUES (?, ?, ?)
ON CONFLICT (profile) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`)
	if _, err := r.db.ExecContext(ctx, query, r.profile, string(payload), session.SavedAt.UTC()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the session row for the profile.
func (r *SQLSessionRepository) Load(ctx context.Context) (*models.Session, bool, error) {
	query := r.db.Rebind(`SELECT payload FROM client_sessions WHERE profile = ? LIMIT 1`)
	var payload string
	if err := r.db.GetContext(ctx, &payload, query, r.profile); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load session: %w", err)
	}
	session, ok := decodeSession([]byte(payload))
	return session, ok, nil
}

// Clear deletes the session row.
func (r *SQLSessionRepository) Clear(ctx context.Context) error {
	query := r.db.Rebind(`DELETE FROM client_sessions WHERE profile = ?`)
	if _, err := r.db.ExecContext(ctx, query, r.profile); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
