package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/robotask-client/internal/models"
)

// ViewKind tags the screen the router selected.
type ViewKind string

const (
	ViewLogin            ViewKind = "login"
	ViewStudentDashboard ViewKind = "student_dashboard"
	ViewAdminDashboard   ViewKind = "admin_dashboard"
)

// View is one of LoginView, StudentDashboardView or AdminDashboardView.
type View interface {
	Kind() ViewKind
}

// LoginView is shown without a session.
type LoginView struct{}

// Kind implements View.
func (LoginView) Kind() ViewKind { return ViewLogin }

// StudentDashboardView lists the student's submissions and progress.
type StudentDashboardView struct {
	Username    string              `json:"username"`
	Greeting    string              `json:"greeting"`
	Submissions []models.Submission `json:"submissions"`
	Progress    models.Progress     `json:"progress"`
	Loading     bool                `json:"loading"`
}

// Kind implements View.
func (StudentDashboardView) Kind() ViewKind { return ViewStudentDashboard }

// AdminDashboardView lists all tasks with the statistics panels.
type AdminDashboardView struct {
	Username   string                     `json:"username"`
	Greeting   string                     `json:"greeting"`
	Tasks      []models.Task              `json:"tasks"`
	Overview   *models.StatisticsOverview `json:"overview"`
	PerTask    []models.TaskStatistic     `json:"per_task"`
	PerStudent []models.StudentStatistic  `json:"per_student"`
	Loading    bool                       `json:"loading"`
}

// Kind implements View.
func (AdminDashboardView) Kind() ViewKind { return ViewAdminDashboard }

type sessionReader interface {
	Session() *models.Session
}

// ViewRouter picks the view for the current session. It holds no state of
// its own.
type ViewRouter struct {
	auth  sessionReader
	tasks *TaskService
	stats *StatisticsService
}

// NewViewRouter constructs a ViewRouter.
func NewViewRouter(auth sessionReader, tasks *TaskService, stats *StatisticsService) *ViewRouter {
	return &ViewRouter{auth: auth, tasks: tasks, stats: stats}
}

// Resolve builds the view from current controller state without I/O.
func (r *ViewRouter) Resolve() View {
	session := r.auth.Session()
	if session == nil {
		return LoginView{}
	}
	greeting := Greeting(session)
	tasks := r.tasks.Snapshot()

	switch session.Role {
	case models.RoleAdmin:
		stats := r.stats.Snapshot()
		return AdminDashboardView{
			Username:   session.Username,
			Greeting:   greeting,
			Tasks:      tasks.Tasks,
			Overview:   stats.Overview,
			PerTask:    stats.PerTask,
			PerStudent: stats.PerStudent,
			Loading:    tasks.Loading || stats.Loading,
		}
	default:
		return StudentDashboardView{
			Username:    session.Username,
			Greeting:    greeting,
			Submissions: tasks.Submissions,
			Progress:    tasks.Progress,
			Loading:     tasks.Loading,
		}
	}
}

// Load refreshes the controllers backing the current role and resolves. The
// view is always returned, reflecting the last good state when err is set.
func (r *ViewRouter) Load(ctx context.Context) (View, error) {
	session := r.auth.Session()
	if session == nil {
		return LoginView{}, nil
	}

	var err error
	switch session.Role {
	case models.RoleAdmin:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			_, err := r.tasks.Refresh(gctx)
			return err
		})
		g.Go(func() error {
			_, err := r.stats.FetchDashboard(gctx)
			return err
		})
		err = g.Wait()
	default:
		_, err = r.tasks.Refresh(ctx)
	}
	return r.Resolve(), err
}

// Greeting renders the dashboard greeting with the role label.
func Greeting(session *models.Session) string {
	if session == nil {
		return ""
	}
	return "Hello, " + session.Username + " (" + session.Role.Label() + ")"
}
