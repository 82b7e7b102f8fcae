package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
	"github.com/noah-isme/robotask-client/internal/testutil/fakeapi"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
)

func loginStudent(t *testing.T, st *stack, titles ...string) []int {
	t.Helper()
	st.api.AddUser("ana", "secret1", false)
	ids := make([]int, 0, len(titles))
	for _, title := range titles {
		ids = append(ids, st.api.AddTask(title))
	}
	_, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "ana", Password: "secret1"})
	require.NoError(t, err)
	return ids
}

func TestRefreshStudentComputesProgress(t *testing.T) {
	st := newStack(t, nil)
	ids := loginStudent(t, st, "Line follower", "Sumo bot", "Maze solver")
	st.api.SetCompleted("ana", ids[0], true)

	snap, err := st.tasks.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, snap.Role)
	require.Len(t, snap.Submissions, 3)
	assert.Equal(t, models.Progress{Total: 3, Completed: 1, Pending: 2, Percentage: 33}, snap.Progress)
	assert.False(t, snap.Loading)
	assert.NotNil(t, snap.LastRefreshed)
	assert.Equal(t, 1, st.api.Calls("GET /my-tasks"))
	assert.Equal(t, 0, st.api.Calls("GET /tasks"))
}

func TestRefreshAdminListsTasks(t *testing.T) {
	st := newStack(t, nil)
	st.api.AddTask("Line follower")
	st.api.AddTask("Sumo bot")
	_, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	snap, err := st.tasks.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, snap.Role)
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, "Sumo bot", snap.Tasks[0].Title)
	assert.Empty(t, snap.Submissions)
	assert.Equal(t, 1, st.api.Calls("GET /tasks"))
}

func TestRefreshWithoutSession(t *testing.T) {
	st := newStack(t, nil)
	_, err := st.tasks.Refresh(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)
	assert.Equal(t, 0, st.api.TotalCalls())
}

func TestToggleCompletionCommitsOnSuccess(t *testing.T) {
	st := newStack(t, nil)
	ids := loginStudent(t, st, "Line follower", "Sumo bot")
	_, err := st.tasks.Refresh(context.Background())
	require.NoError(t, err)

	sub, err := st.tasks.ToggleCompletion(context.Background(), ids[0], dto.CompleteTaskRequest{Notes: "done with PID"})
	require.NoError(t, err)
	assert.True(t, sub.Completed)
	require.NotNil(t, sub.CompletedAt)
	require.NotNil(t, sub.Notes)
	assert.Equal(t, "done with PID", *sub.Notes)
	assert.True(t, st.api.Completed("ana", ids[0]))
	assert.Equal(t, 50, st.tasks.Snapshot().Progress.Percentage)

	sub, err = st.tasks.ToggleCompletion(context.Background(), ids[0], dto.CompleteTaskRequest{})
	require.NoError(t, err)
	assert.False(t, sub.Completed)
	assert.Nil(t, sub.CompletedAt)
	assert.False(t, st.api.Completed("ana", ids[0]))
}

func TestToggleCompletionRollsBackOnFailure(t *testing.T) {
	st := newStack(t, nil)
	ids := loginStudent(t, st, "Line follower")
	_, err := st.tasks.Refresh(context.Background())
	require.NoError(t, err)
	before := st.tasks.Snapshot()

	st.api.Fail("PUT /tasks/:id/complete", fakeapi.Failure{Status: 500, Detail: "database locked"})
	_, err = st.tasks.ToggleCompletion(context.Background(), ids[0], dto.CompleteTaskRequest{})
	require.Error(t, err)
	assert.Equal(t, "database locked", appErrors.FromError(err).Message)

	after := st.tasks.Snapshot()
	assert.Equal(t, before.Submissions, after.Submissions)
	assert.Equal(t, before.Progress, after.Progress)
	assert.False(t, after.Loading)
	assert.Equal(t, uint64(1), st.metrics.Snapshot().ToggleRollbacks)
}

func TestToggleUnknownTaskIsNotFoundWithoutNetwork(t *testing.T) {
	st := newStack(t, nil)
	loginStudent(t, st, "Line follower")
	_, err := st.tasks.Refresh(context.Background())
	require.NoError(t, err)

	_, err = st.tasks.ToggleCompletion(context.Background(), 999, dto.CompleteTaskRequest{})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Equal(t, 0, st.api.Calls("PUT /tasks/:id/complete"))
}

func TestToggleIsStudentOnly(t *testing.T) {
	api := &scriptedTasks{}
	svc := NewTaskService(api, fixedRole{models.RoleAdmin}, nil, nil, nil, time.Second)
	_, err := svc.ToggleCompletion(context.Background(), 1, dto.CompleteTaskRequest{})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	svc = NewTaskService(api, fixedRole{}, nil, nil, nil, time.Second)
	_, err = svc.ToggleCompletion(context.Background(), 1, dto.CompleteTaskRequest{})
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)
}

func refreshAsync(svc *TaskService) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(context.Background())
		done <- err
	}()
	return done
}

func TestStaleRefreshNeverOverwritesNewerResult(t *testing.T) {
	api := &scriptedTasks{ignoreCancel: true}
	metrics := NewMetricsService()
	svc := NewTaskService(api, fixedRole{models.RoleStudent}, nil, nil, metrics, time.Second)

	first := refreshAsync(svc)
	waitFor(t, func() bool { return api.pendingMyTasks() == 1 })
	second := refreshAsync(svc)
	waitFor(t, func() bool { return api.pendingMyTasks() == 2 })

	newer := []models.Submission{submission(1, true), submission(2, false)}
	api.reply(1, newer, nil)
	require.NoError(t, <-second)

	api.reply(0, []models.Submission{submission(1, false)}, nil)
	err := <-first
	assert.ErrorIs(t, err, appErrors.ErrSuperseded)

	snap := svc.Snapshot()
	assert.Equal(t, newer, snap.Submissions)
	assert.False(t, snap.Loading)
	assert.Equal(t, uint64(1), metrics.Snapshot().SupersededRefreshes)
}

func TestNewRefreshCancelsPrevious(t *testing.T) {
	api := &scriptedTasks{}
	svc := NewTaskService(api, fixedRole{models.RoleStudent}, nil, nil, nil, time.Second)

	first := refreshAsync(svc)
	waitFor(t, func() bool { return api.pendingMyTasks() == 1 })
	second := refreshAsync(svc)

	assert.ErrorIs(t, <-first, appErrors.ErrSuperseded)
	waitFor(t, func() bool { return api.pendingMyTasks() == 2 })
	api.reply(1, []models.Submission{submission(3, false)}, nil)
	require.NoError(t, <-second)
	assert.Len(t, svc.Snapshot().Submissions, 1)
}

func TestRefreshKeepsInFlightToggle(t *testing.T) {
	api := &scriptedTasks{}
	svc := NewTaskService(api, fixedRole{models.RoleStudent}, nil, nil, nil, time.Second)

	initial := refreshAsync(svc)
	waitFor(t, func() bool { return api.pendingMyTasks() == 1 })
	api.reply(0, []models.Submission{submission(1, false), submission(2, false)}, nil)
	require.NoError(t, <-initial)

	toggled := make(chan error, 1)
	go func() {
		_, err := svc.ToggleCompletion(context.Background(), 1, dto.CompleteTaskRequest{})
		toggled <- err
	}()
	waitFor(t, func() bool { return api.pendingToggles() == 1 })

	refreshed := refreshAsync(svc)
	waitFor(t, func() bool { return api.pendingMyTasks() == 2 })
	api.reply(1, []models.Submission{submission(1, false), submission(2, true)}, nil)
	require.NoError(t, <-refreshed)

	snap := svc.Snapshot()
	require.Len(t, snap.Submissions, 2)
	assert.True(t, snap.Submissions[0].Completed, "in-flight toggle kept")
	assert.True(t, snap.Submissions[1].Completed, "server value applied")
	assert.True(t, snap.Loading)

	api.finishToggle(0, nil)
	require.NoError(t, <-toggled)
	assert.True(t, svc.Snapshot().Submissions[0].Completed)
	assert.False(t, svc.Snapshot().Loading)
}

func TestTogglesOnSameTaskAreSerialized(t *testing.T) {
	api := &scriptedTasks{}
	svc := NewTaskService(api, fixedRole{models.RoleStudent}, nil, nil, nil, time.Second)
	initial := refreshAsync(svc)
	waitFor(t, func() bool { return api.pendingMyTasks() == 1 })
	api.reply(0, []models.Submission{submission(1, false)}, nil)
	require.NoError(t, <-initial)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ToggleCompletion(context.Background(), 1, dto.CompleteTaskRequest{})
			errs <- err
		}()
	}

	waitFor(t, func() bool { return api.pendingToggles() == 1 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, api.pendingToggles(), "second toggle waits for the first")
	assert.True(t, svc.Snapshot().Submissions[0].Completed)

	api.finishToggle(0, nil)
	waitFor(t, func() bool { return api.pendingToggles() == 2 })
	assert.False(t, svc.Snapshot().Submissions[0].Completed)
	api.finishToggle(1, appErrors.API(500, "boom"))

	wg.Wait()
	close(errs)
	var failures int
	for err := range errs {
		if err != nil {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.True(t, svc.Snapshot().Submissions[0].Completed, "second toggle rolled back to the first's result")
}

func TestRefreshLoadingFlagTracksRequest(t *testing.T) {
	api := &scriptedTasks{}
	svc := NewTaskService(api, fixedRole{models.RoleStudent}, nil, nil, nil, time.Second)

	done := make(chan *TaskSnapshot, 1)
	go func() {
		snap, err := svc.Refresh(context.Background())
		assert.NoError(t, err)
		done <- snap
	}()
	waitFor(t, func() bool { return api.pendingMyTasks() == 1 })
	assert.True(t, svc.Snapshot().Loading)

	api.reply(0, []models.Submission{submission(1, false)}, nil)
	snap := <-done
	require.NotNil(t, snap)
	assert.False(t, snap.Loading)
	assert.False(t, svc.Snapshot().Loading)
}

func TestUncompleteClearsNotes(t *testing.T) {
	api := &scriptedTasks{}
	svc := NewTaskService(api, fixedRole{models.RoleStudent}, nil, nil, nil, time.Second)
	initial := refreshAsync(svc)
	waitFor(t, func() bool { return api.pendingMyTasks() == 1 })
	done := submission(1, true)
	notes := "wheels attached"
	done.Notes = &notes
	api.reply(0, []models.Submission{done}, nil)
	require.NoError(t, <-initial)

	toggled := make(chan error, 1)
	go func() {
		_, err := svc.ToggleCompletion(context.Background(), 1, dto.CompleteTaskRequest{})
		toggled <- err
	}()
	waitFor(t, func() bool { return api.pendingToggles() == 1 })
	local := svc.Snapshot().Submissions[0]
	assert.False(t, local.Completed)
	assert.Nil(t, local.CompletedAt)
	assert.Nil(t, local.Notes)

	api.finishToggle(0, nil)
	require.NoError(t, <-toggled)
	assert.Nil(t, svc.Snapshot().Submissions[0].Notes)
}

func TestRefreshTimeoutClearsLoading(t *testing.T) {
	api := &scriptedTasks{}
	svc := NewTaskService(api, fixedRole{models.RoleStudent}, nil, nil, nil, 30*time.Millisecond)

	_, err := svc.Refresh(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrTimeout)
	assert.False(t, svc.Snapshot().Loading)
}

func TestResetDropsStateAndInFlightRefresh(t *testing.T) {
	api := &scriptedTasks{ignoreCancel: true}
	svc := NewTaskService(api, fixedRole{models.RoleStudent}, nil, nil, nil, time.Second)

	pending := refreshAsync(svc)
	waitFor(t, func() bool { return api.pendingMyTasks() == 1 })
	svc.Reset()
	api.reply(0, []models.Submission{submission(1, false)}, nil)

	assert.ErrorIs(t, <-pending, appErrors.ErrSuperseded)
	assert.Empty(t, svc.Snapshot().Submissions)
}

func TestCreateTaskValidatesBeforeUpload(t *testing.T) {
	api := &scriptedTasks{}
	svc := NewTaskService(api, fixedRole{models.RoleAdmin}, validator.New(), nil, nil, time.Second)
	called := false
	api.createFn = func() { called = true }

	cases := map[string]dto.CreateTaskRequest{
		"no title":    {Description: "d", ImageName: "a.png", ImageType: "image/png", Image: bytes.NewReader(nil)},
		"no image":    {Title: "t", Description: "d"},
		"gif image":   {Title: "t", Description: "d", ImageName: "a.gif", ImageType: "image/gif", Image: bytes.NewReader(nil)},
		"description": {Title: "t", ImageName: "a.png", ImageType: "image/png", Image: bytes.NewReader(nil)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateTask(context.Background(), req)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
	assert.False(t, called)

	student := NewTaskService(api, fixedRole{models.RoleStudent}, nil, nil, nil, time.Second)
	_, err := student.CreateTask(context.Background(), cases["no title"])
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestCreateTaskAndDetailAgainstAPI(t *testing.T) {
	st := newStack(t, nil)
	st.api.AddUser("ana", "secret1", false)
	st.api.AddUser("ben", "secret2", false)
	_, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	_, err = st.tasks.Refresh(context.Background())
	require.NoError(t, err)

	task, err := st.tasks.CreateTask(context.Background(), dto.CreateTaskRequest{
		Title: "Maze solver", Description: "Wall following", ImageName: "maze.jpg", ImageType: "image/jpeg",
		Image: bytes.NewReader([]byte{0xff, 0xd8}),
	})
	require.NoError(t, err)
	snap := st.tasks.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, task.ID, snap.Tasks[0].ID)

	st.api.SetCompleted("ben", task.ID, true)
	detail, err := st.tasks.TaskDetail(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, detail.TotalStudents)
	assert.Equal(t, 1, detail.CompletedCount)
	assert.Equal(t, 50.0, detail.CompletionRate)
	require.Len(t, detail.Submissions, 2)
	assert.Equal(t, "ana", detail.Submissions[0].Student.Username)

	_, err = st.tasks.TaskDetail(context.Background(), 404)
	appErr := appErrors.FromError(err)
	assert.Equal(t, 404, appErr.Status)
	assert.Equal(t, "Task not found", appErr.Message)
}
