package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSessionRepositorySaveLoadClear(t *testing.T) {
	client, mock := redismock.NewClientMock()
	repo := NewRedisSessionRepository(client, "kiosk")
	ctx := context.Background()

	s := sampleSession(5)
	payload, err := encodeSession(s)
	require.NoError(t, err)

	mock.ExpectSet("robotask:session:kiosk", payload, 0).SetVal("OK")
	require.NoError(t, repo.Save(ctx, s))

	mock.ExpectGet("robotask:session:kiosk").SetVal(string(payload))
	got, found, err := repo.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, s, got)

	mock.ExpectDel("robotask:session:kiosk").SetVal(1)
	require.NoError(t, repo.Clear(ctx))

	mock.ExpectGet("robotask:session:kiosk").RedisNil()
	_, found, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisSessionRepositoryLoadError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	repo := NewRedisSessionRepository(client, "")

	mock.ExpectGet(SessionKey("default")).SetErr(errors.New("READONLY"))
	_, _, err := repo.Load(context.Background())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
