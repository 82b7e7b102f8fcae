package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsJobs(t *testing.T) {
	var handled atomic.Int32
	q := NewQueue("test", func(_ context.Context, job Job) error {
		assert.Equal(t, "server_logout", job.Kind)
		handled.Add(1)
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())

	for i := 0; i < 5; i++ {
		id, err := q.Enqueue("server_logout", i)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Shutdown(ctx)
	assert.Equal(t, int32(5), handled.Load())
}

func TestQueueRetriesThenGivesUp(t *testing.T) {
	var attempts atomic.Int32
	q := NewQueue("retry", func(context.Context, Job) error {
		attempts.Add(1)
		return errors.New("server unavailable")
	}, QueueConfig{MaxRetries: 2, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())

	_, err := q.Enqueue("server_logout", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Shutdown(ctx)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueueRejectsWhenNotStarted(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	_, err := q.Enqueue("server_logout", nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	q.Shutdown(context.Background())
}

func TestQueueRefusesJobsWhileShuttingDown(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("drain", func(context.Context, Job) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, QueueConfig{})
	q.Start(context.Background())

	_, err := q.Enqueue("server_logout", nil)
	require.NoError(t, err)
	<-started

	stopped := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		q.Shutdown(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		_, err := q.Enqueue("server_logout", nil)
		return errors.Is(err, ErrShuttingDown)
	}, time.Second, 2*time.Millisecond)

	close(release)
	<-stopped

	q.Start(context.Background())
	_, err = q.Enqueue("server_logout", nil)
	assert.NoError(t, err)
	q.Stop()
}
