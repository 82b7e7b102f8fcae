package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/robotask-client/internal/apiclient"
	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
	"github.com/noah-isme/robotask-client/internal/repository"
	"github.com/noah-isme/robotask-client/internal/testutil/fakeapi"
)

// stack wires the services against a fake API the same way the commands do.
type stack struct {
	api     *fakeapi.Server
	client  *apiclient.Client
	store   repository.SessionRepository
	metrics *MetricsService
	auth    *AuthService
	tasks   *TaskService
	stats   *StatisticsService
	router  *ViewRouter
}

func newStack(t *testing.T, store repository.SessionRepository) *stack {
	t.Helper()
	api := fakeapi.New()
	t.Cleanup(api.Close)

	if store == nil {
		store = repository.NewMemorySessionRepository()
	}
	metrics := NewMetricsService()
	client := apiclient.New(apiclient.Config{BaseURL: api.URL, Timeout: 5 * time.Second, Metrics: metrics})
	validate := validator.New()

	auth := NewAuthService(client, store, validate, nil, metrics, nil, AuthConfig{Timeout: 5 * time.Second})
	client.SetTokenSource(auth)
	client.OnUnauthorized(func(token string) { auth.HandleUnauthorized(token) })

	tasks := NewTaskService(client, auth, validate, nil, metrics, 5*time.Second)
	stats := NewStatisticsService(client, auth, nil, 5*time.Second)
	auth.OnSessionChange(func(*models.Session) {
		tasks.Reset()
		stats.Reset()
	})

	return &stack{
		api:     api,
		client:  client,
		store:   store,
		metrics: metrics,
		auth:    auth,
		tasks:   tasks,
		stats:   stats,
		router:  NewViewRouter(auth, tasks, stats),
	}
}

// fixedRole is a roleSource for controller tests that bypass auth.
type fixedRole struct {
	role models.Role
}

func (f fixedRole) Role() (models.Role, bool) {
	if f.role == "" {
		return "", false
	}
	return f.role, true
}

// failingStore wraps a repository and fails selected operations.
type failingStore struct {
	repository.SessionRepository
	saveErr  error
	clearErr error
}

func (f *failingStore) Save(ctx context.Context, s *models.Session) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.SessionRepository.Save(ctx, s)
}

func (f *failingStore) Clear(ctx context.Context) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	return f.SessionRepository.Clear(ctx)
}

var errDisk = errors.New("disk full")

// scriptedTasks is a hand-driven taskAPI whose calls block until released.
type scriptedTasks struct {
	mu       sync.Mutex
	myTasks  []chan myTasksReply
	toggles  []chan error
	toggled  []int
	detail   *models.TaskDetail
	created  *models.Task
	createFn func()

	// ignoreCancel makes MyTasks answer only when replied to, like a
	// server that already sent its response.
	ignoreCancel bool
}

type myTasksReply struct {
	subs []models.Submission
	err  error
}

func (s *scriptedTasks) nextMyTasks() chan myTasksReply {
	ch := make(chan myTasksReply, 1)
	s.mu.Lock()
	s.myTasks = append(s.myTasks, ch)
	s.mu.Unlock()
	return ch
}

func (s *scriptedTasks) pendingMyTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.myTasks)
}

func (s *scriptedTasks) MyTasks(ctx context.Context) ([]models.Submission, error) {
	ch := s.nextMyTasks()
	if s.ignoreCancel {
		reply := <-ch
		return reply.subs, reply.err
	}
	select {
	case reply := <-ch:
		return reply.subs, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptedTasks) reply(i int, subs []models.Submission, err error) {
	s.mu.Lock()
	ch := s.myTasks[i]
	s.mu.Unlock()
	ch <- myTasksReply{subs: subs, err: err}
}

func (s *scriptedTasks) Tasks(context.Context) ([]models.Task, error) {
	return []models.Task{{ID: 1, Title: "Line follower"}}, nil
}

func (s *scriptedTasks) TaskDetail(_ context.Context, id int) (*models.TaskDetail, error) {
	return s.detail, nil
}

func (s *scriptedTasks) toggle(id int) error {
	ch := make(chan error, 1)
	s.mu.Lock()
	s.toggles = append(s.toggles, ch)
	s.toggled = append(s.toggled, id)
	s.mu.Unlock()
	return <-ch
}

func (s *scriptedTasks) pendingToggles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.toggles)
}

func (s *scriptedTasks) finishToggle(i int, err error) {
	s.mu.Lock()
	ch := s.toggles[i]
	s.mu.Unlock()
	ch <- err
}

func (s *scriptedTasks) CompleteTask(_ context.Context, id int, _ string) error {
	return s.toggle(id)
}

func (s *scriptedTasks) UncompleteTask(_ context.Context, id int) error {
	return s.toggle(id)
}

func (s *scriptedTasks) CreateTask(context.Context, dto.CreateTaskRequest) (*models.Task, error) {
	if s.createFn != nil {
		s.createFn()
	}
	return s.created, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func submission(taskID int, done bool) models.Submission {
	sub := models.Submission{SubmissionID: taskID * 10, Task: models.Task{ID: taskID, Title: "task"}, Completed: done}
	if done {
		ts := models.NewTimestamp(time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC))
		sub.CompletedAt = &ts
	}
	return sub
}
