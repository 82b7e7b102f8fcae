package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/noah-isme/robotask-client/internal/models"
)

// FileSessionRepository stores the session as a JSON file. Writes go to a
// temp file in the same directory and are renamed into place, so readers see
// either the previous record or the new one.
type FileSessionRepository struct {
	path string
}

// NewFileSessionRepository creates the session directory and returns a store
// writing <dir>/<profile>.json.
func NewFileSessionRepository(dir, profile string) (*FileSessionRepository, error) {
	if dir == "" {
		dir = ".robotask"
	}
	if profile == "" {
		profile = "default"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &FileSessionRepository{path: filepath.Join(dir, profile+".json")}, nil
}

// Path returns the session file location.
func (r *FileSessionRepository) Path() string {
	return r.path
}

// Save atomically replaces the session file.
func (r *FileSessionRepository) Save(ctx context.Context, session *models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stampSession(session)
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create session temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod session temp file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync session temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Load reads the session file.
func (r *FileSessionRepository) Load(ctx context.Context) (*models.Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	payload, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read session file: %w", err)
	}
	session, ok := decodeSession(payload)
	return session, ok, nil
}

// Clear removes the session file.
func (r *FileSessionRepository) Clear(_ context.Context) error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
