package repository

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/noah-isme/robotask-client/internal/models"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
)

func sampleSession(i int) *models.Session {
	created := models.NewTimestamp(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
	role := models.RoleStudent
	if i%2 == 0 {
		role = models.RoleAdmin
	}
	username := []string{"ana", "carlos", "maria", "admin"}[i%4]
	return &models.Session{
		Token:    "token-" + username + "-" + time.Duration(i).String(),
		Username: username,
		Role:     role,
		Profile: models.UserProfile{
			ID:        i + 1,
			Username:  username,
			Email:     username + "@example.com",
			IsAdmin:   role == models.RoleAdmin,
			CreatedAt: &created,
		},
		ExpiresAt: &exp,
		SavedAt:   time.Date(2024, 5, 1, 12, 0, i, 0, time.UTC),
	}
}

func newSQLiteSessionRepo(t *testing.T) *SQLSessionRepository {
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	repo := NewSQLSessionRepository(db, "default")
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func sessionBackends(t *testing.T) map[string]SessionRepository {
	fileRepo, err := NewFileSessionRepository(t.TempDir(), "default")
	require.NoError(t, err)
	return map[string]SessionRepository{
		"memory": NewMemorySessionRepository(),
		"file":   fileRepo,
		"sqlite": newSQLiteSessionRepo(t),
	}
}

func TestSessionRepositoryRoundTrip(t *testing.T) {
	for name, repo := range sessionBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, found, err := repo.Load(ctx)
			require.NoError(t, err)
			assert.False(t, found)

			s := sampleSession(2)
			require.NoError(t, repo.Save(ctx, s))

			got, found, err := repo.Load(ctx)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, s, got)

			require.NoError(t, repo.Clear(ctx))
			_, found, err = repo.Load(ctx)
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, repo.Clear(ctx))
		})
	}
}

func TestSessionRepositoryReflectsLastWrite(t *testing.T) {
	for name, repo := range sessionBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rng := rand.New(rand.NewSource(42))
			var want *models.Session

			for step := 0; step < 60; step++ {
				switch rng.Intn(3) {
				case 0:
					s := sampleSession(step)
					require.NoError(t, repo.Save(ctx, s))
					want = s
				case 1:
					require.NoError(t, repo.Clear(ctx))
					want = nil
				default:
					got, found, err := repo.Load(ctx)
					require.NoError(t, err)
					if want == nil {
						assert.False(t, found, "step %d", step)
						continue
					}
					require.True(t, found, "step %d", step)
					assert.Equal(t, want, got, "step %d", step)
				}
			}
		})
	}
}

func TestSessionRepositoryRejectsInvalidSession(t *testing.T) {
	for name, repo := range sessionBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := repo.Save(context.Background(), &models.Session{Token: "t"})
			require.Error(t, err)
			assert.True(t, appErrors.HasCode(err, appErrors.CodeValidation))
		})
	}
}

func TestFileSessionRepositoryIgnoresCorruptRecord(t *testing.T) {
	repo, err := NewFileSessionRepository(t.TempDir(), "student")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(repo.Path(), []byte(`{"token":"abc","user_role":"student"`), 0o600))

	_, found, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, os.WriteFile(repo.Path(), []byte(`{"token":"abc","username":"","user_role":"student"}`), 0o600))
	_, found, err = repo.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileSessionRepositoryWritesPrivateFile(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileSessionRepository(dir, "default")
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), sampleSession(1)))

	info, err := os.Stat(repo.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
