package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
)

type taskAPI interface {
	MyTasks(ctx context.Context) ([]models.Submission, error)
	Tasks(ctx context.Context) ([]models.Task, error)
	TaskDetail(ctx context.Context, id int) (*models.TaskDetail, error)
	CompleteTask(ctx context.Context, id int, notes string) error
	UncompleteTask(ctx context.Context, id int) error
	CreateTask(ctx context.Context, req dto.CreateTaskRequest) (*models.Task, error)
}

type roleSource interface {
	Role() (models.Role, bool)
}

// TaskSnapshot is a copy of the task list state.
type TaskSnapshot struct {
	Role          models.Role         `json:"role,omitempty"`
	Submissions   []models.Submission `json:"submissions"`
	Tasks         []models.Task       `json:"tasks"`
	Progress      models.Progress     `json:"progress"`
	Loading       bool                `json:"loading"`
	LastRefreshed *time.Time          `json:"last_refreshed_at,omitempty"`
}

// TaskService keeps the local task list in step with the server. Refreshes
// are sequence tagged and cancel their predecessor; completion toggles are
// optimistic local transactions serialized per task.
type TaskService struct {
	api       taskAPI
	roles     roleSource
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	timeout   time.Duration
	now       func() time.Time

	mu            sync.Mutex
	role          models.Role
	submissions   []models.Submission
	tasks         []models.Task
	lastRefreshed *time.Time
	loading       int

	refreshSeq    uint64
	cancelRefresh context.CancelFunc

	toggleSeq uint64
	touched   map[int]uint64
	pending   map[int]int
	taskLocks map[int]*sync.Mutex
}

// NewTaskService constructs a TaskService.
func NewTaskService(api taskAPI, roles roleSource, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, timeout time.Duration) *TaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TaskService{
		api:       api,
		roles:     roles,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		timeout:   timeout,
		now:       time.Now,
		touched:   map[int]uint64{},
		pending:   map[int]int{},
		taskLocks: map[int]*sync.Mutex{},
	}
}

// Refresh replaces the local list with the server's. A refresh overtaken by
// a newer one fails with SUPERSEDED and leaves the newer result in place.
func (s *TaskService) Refresh(ctx context.Context) (*TaskSnapshot, error) {
	role, ok := s.roles.Role()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "sign in to see your tasks")
	}

	s.mu.Lock()
	s.refreshSeq++
	seq := s.refreshSeq
	if s.cancelRefresh != nil {
		s.cancelRefresh()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	s.cancelRefresh = cancel
	startedAt := s.toggleSeq
	s.loading++
	s.mu.Unlock()

	defer cancel()

	var (
		submissions []models.Submission
		tasks       []models.Task
		err         error
	)
	if role == models.RoleAdmin {
		tasks, err = s.api.Tasks(ctx)
	} else {
		submissions, err = s.api.MyTasks(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading--
	if seq == s.refreshSeq {
		s.cancelRefresh = nil
	}

	if appErrors.HasCode(err, appErrors.CodeUnauthorized) {
		return nil, err
	}
	if seq != s.refreshSeq {
		s.metrics.RecordSuperseded()
		s.logger.Debug("refresh superseded", zap.Uint64("seq", seq))
		return nil, appErrors.Clone(appErrors.ErrSuperseded, "a newer refresh replaced this one")
	}
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	if role != s.role {
		s.submissions = nil
		s.tasks = nil
	}
	s.role = role
	if role == models.RoleAdmin {
		s.tasks = tasks
		s.submissions = nil
	} else {
		s.submissions = s.mergeLocked(submissions, startedAt)
		s.tasks = nil
	}
	refreshed := s.now().UTC()
	s.lastRefreshed = &refreshed

	snapshot := s.snapshotLocked()
	return &snapshot, nil
}

// mergeLocked keeps the local entry for tasks with a toggle in flight or
// toggled after the refresh started.
func (s *TaskService) mergeLocked(incoming []models.Submission, startedAt uint64) []models.Submission {
	local := make(map[int]models.Submission, len(s.submissions))
	for _, sub := range s.submissions {
		local[sub.TaskID()] = sub
	}
	for i, sub := range incoming {
		id := sub.TaskID()
		if s.pending[id] == 0 && s.touched[id] <= startedAt {
			continue
		}
		if kept, ok := local[id]; ok {
			incoming[i] = kept
		}
	}
	return incoming
}

// ToggleCompletion flips the completion flag of a task locally, confirms it
// with the server and rolls back on failure.
func (s *TaskService) ToggleCompletion(ctx context.Context, taskID int, req dto.CompleteTaskRequest) (*models.Submission, error) {
	role, ok := s.roles.Role()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthenticated, "sign in to update tasks")
	}
	if role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students complete tasks")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "notes are too long")
	}

	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	idx := s.indexLocked(taskID)
	if idx < 0 {
		s.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("task %d is not in your list", taskID))
	}
	before := s.submissions[idx]
	after := before
	after.Completed = !before.Completed
	after.CompletedAt = nil
	if !after.Completed {
		after.Notes = nil
	}
	if after.Completed {
		ts := models.NewTimestamp(s.now())
		after.CompletedAt = &ts
		if req.Notes != "" {
			notes := req.Notes
			after.Notes = &notes
		}
	}
	s.submissions[idx] = after
	s.toggleSeq++
	s.touched[taskID] = s.toggleSeq
	s.pending[taskID]++
	s.loading++
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	var err error
	if after.Completed {
		err = s.api.CompleteTask(callCtx, taskID, req.Notes)
	} else {
		err = s.api.UncompleteTask(callCtx, taskID)
	}
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading--
	if s.pending[taskID]--; s.pending[taskID] <= 0 {
		delete(s.pending, taskID)
	}

	if err != nil {
		if i := s.indexLocked(taskID); i >= 0 {
			s.submissions[i] = before
		}
		s.metrics.RecordRollback()
		s.logger.Info("completion toggle rolled back", zap.Int("task_id", taskID), zap.Error(err))
		return nil, appErrors.FromError(err)
	}

	i := s.indexLocked(taskID)
	if i < 0 {
		return &after, nil
	}
	out := s.submissions[i]
	return &out, nil
}

// CreateTask uploads a new task and adds it to the local admin list.
func (s *TaskService) CreateTask(ctx context.Context, req dto.CreateTaskRequest) (*models.Task, error) {
	if err := requireRole(s.roles, models.RoleAdmin); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, createTaskValidationMessage(err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.setLoading(1)
	defer s.setLoading(-1)

	task, err := s.api.CreateTask(ctx, req)
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	s.mu.Lock()
	if s.role == models.RoleAdmin {
		s.tasks = append([]models.Task{*task}, s.tasks...)
	}
	s.mu.Unlock()

	s.logger.Info("task created", zap.Int("task_id", task.ID), zap.String("title", task.Title))
	return task, nil
}

// TaskDetail fetches a task with per-student submissions.
func (s *TaskService) TaskDetail(ctx context.Context, id int) (*models.TaskDetail, error) {
	if err := requireRole(s.roles, models.RoleAdmin); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.setLoading(1)
	defer s.setLoading(-1)
	detail, err := s.api.TaskDetail(ctx, id)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return detail, nil
}

// Snapshot returns a copy of the current state.
func (s *TaskService) Snapshot() TaskSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Reset drops all local state and invalidates in-flight refreshes. It is
// called whenever the session changes.
func (s *TaskService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshSeq++
	if s.cancelRefresh != nil {
		s.cancelRefresh()
		s.cancelRefresh = nil
	}
	s.role = ""
	s.submissions = nil
	s.tasks = nil
	s.lastRefreshed = nil
	s.touched = map[int]uint64{}
}

func (s *TaskService) snapshotLocked() TaskSnapshot {
	snap := TaskSnapshot{
		Role:        s.role,
		Submissions: append([]models.Submission{}, s.submissions...),
		Tasks:       append([]models.Task{}, s.tasks...),
		Progress:    models.ComputeProgress(s.submissions),
		Loading:     s.loading > 0,
	}
	if s.lastRefreshed != nil {
		ts := *s.lastRefreshed
		snap.LastRefreshed = &ts
	}
	return snap
}

func (s *TaskService) indexLocked(taskID int) int {
	for i, sub := range s.submissions {
		if sub.TaskID() == taskID {
			return i
		}
	}
	return -1
}

func (s *TaskService) taskLock(taskID int) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.taskLocks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		s.taskLocks[taskID] = lock
	}
	return lock
}

func (s *TaskService) setLoading(delta int) {
	s.mu.Lock()
	s.loading += delta
	s.mu.Unlock()
}

func requireRole(roles roleSource, want models.Role) error {
	role, ok := roles.Role()
	if !ok {
		return appErrors.Clone(appErrors.ErrUnauthenticated, "sign in required")
	}
	if role != want {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("only %s accounts can do this", want))
	}
	return nil
}

func createTaskValidationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid task"
	}
	switch verrs[0].Field() {
	case "Title":
		return "title is required"
	case "Description":
		return "description is required"
	case "ImageType":
		return "only JPEG and PNG images are allowed"
	case "ImageName", "Image":
		return "an image is required"
	}
	return "invalid task"
}
