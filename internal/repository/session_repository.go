package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/noah-isme/robotask-client/internal/models"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
)

// SessionRepository persists the current session across restarts. Load
// returns found=false when nothing was saved, the session was cleared, or
// the stored record does not satisfy the session invariant.
type SessionRepository interface {
	Save(ctx context.Context, session *models.Session) error
	Load(ctx context.Context) (*models.Session, bool, error)
	Clear(ctx context.Context) error
}

// sessionRecord is the persisted shape. The keys mirror the ones the mobile
// drafts kept in AsyncStorage and are written together as one value.
type sessionRecord struct {
	Token     string          `json:"token"`
	Username  string          `json:"username"`
	User      json.RawMessage `json:"user"`
	Role      models.Role     `json:"user_role"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	SavedAt   time.Time       `json:"saved_at"`
}

func encodeSession(session *models.Session) ([]byte, error) {
	if !session.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session requires token, username and role")
	}
	user, err := json.Marshal(session.Profile)
	if err != nil {
		return nil, fmt.Errorf("marshal session profile: %w", err)
	}
	record := sessionRecord{
		Token:     session.Token,
		Username:  session.Username,
		User:      user,
		Role:      session.Role,
		ExpiresAt: session.ExpiresAt,
		SavedAt:   session.SavedAt.UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return payload, nil
}

// decodeSession returns ok=false for unreadable or invariant-violating
// records; a half-written or tampered record is treated as no session.
func decodeSession(payload []byte) (*models.Session, bool) {
	var record sessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, false
	}
	session := &models.Session{
		Token:     record.Token,
		Username:  record.Username,
		Role:      record.Role,
		ExpiresAt: record.ExpiresAt,
		SavedAt:   record.SavedAt,
	}
	if len(record.User) > 0 {
		if err := json.Unmarshal(record.User, &session.Profile); err != nil {
			return nil, false
		}
	}
	if !session.Valid() {
		return nil, false
	}
	return session, true
}

func stampSession(session *models.Session) {
	if session != nil && session.SavedAt.IsZero() {
		session.SavedAt = time.Now().UTC()
	}
}

// MemorySessionRepository keeps the session in process memory.
type MemorySessionRepository struct {
	mu      sync.RWMutex
	payload []byte
}

// NewMemorySessionRepository constructs an empty in-memory store.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{}
}

// Save stores a copy of the session.
func (r *MemorySessionRepository) Save(_ context.Context, session *models.Session) error {
	stampSession(session)
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.payload = payload
	r.mu.Unlock()
	return nil
}

// Load returns the stored session.
func (r *MemorySessionRepository) Load(_ context.Context) (*models.Session, bool, error) {
	r.mu.RLock()
	payload := r.payload
	r.mu.RUnlock()
	if payload == nil {
		return nil, false, nil
	}
	session, ok := decodeSession(payload)
	return session, ok, nil
}

// Clear drops the stored session.
func (r *MemorySessionRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	r.payload = nil
	r.mu.Unlock()
	return nil
}
