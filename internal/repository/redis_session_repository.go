package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/robotask-client/internal/models"
)

// RedisSessionRepository stores the session record under a single key, so
// each save replaces the whole record at once.
type RedisSessionRepository struct {
	client *redis.Client
	key    string
}

// SessionKey returns the redis key used for a profile.
func SessionKey(profile string) string {
	if profile == "" {
		profile = "default"
	}
	return "robotask:session:" + profile
}

// NewRedisSessionRepository constructs the repository.
func NewRedisSessionRepository(client *redis.Client, profile string) *RedisSessionRepository {
	return &RedisSessionRepository{client: client, key: SessionKey(profile)}
}

// Save writes the session record without expiry; the server decides when a
// token stops working.
func (r *RedisSessionRepository) Save(ctx context.Context, session *models.Session) error {
	stampSession(session)
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

// Load fetches the session record.
func (r *RedisSessionRepository) Load(ctx context.Context) (*models.Session, bool, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	session, ok := decodeSession(raw)
	return session, ok, nil
}

// Clear deletes the session key.
func (r *RedisSessionRepository) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", r.key, err)
	}
	return nil
}

// Close releases the redis connection.
func (r *RedisSessionRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
