package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
	"github.com/noah-isme/robotask-client/internal/service"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
	"github.com/noah-isme/robotask-client/pkg/response"
)

type taskService interface {
	Snapshot() service.TaskSnapshot
	Refresh(ctx context.Context) (*service.TaskSnapshot, error)
	ToggleCompletion(ctx context.Context, taskID int, req dto.CompleteTaskRequest) (*models.Submission, error)
	CreateTask(ctx context.Context, req dto.CreateTaskRequest) (*models.Task, error)
	TaskDetail(ctx context.Context, id int) (*models.TaskDetail, error)
}

// dueDateLayouts are the accepted due_date form encodings.
var dueDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

// TaskHandler exposes the task list controller.
type TaskHandler struct {
	tasks taskService
}

// NewTaskHandler constructs the handler.
func NewTaskHandler(tasks taskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// List godoc
// @Summary Current task list
// @Description Returns the cached list without contacting the task API.
// @Tags Tasks
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	response.OK(c, h.tasks.Snapshot())
}

// Refresh godoc
// @Summary Reload the task list
// @Tags Tasks
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tasks/refresh [post]
func (h *TaskHandler) Refresh(c *gin.Context) {
	snapshot, err := h.tasks.Refresh(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snapshot)
}

// Toggle godoc
// @Summary Flip completion of a task
// @Tags Tasks
// @Accept json
// @Accept x-www-form-urlencoded
// @Produce json
// @Param id path int true "Task ID"
// @Param payload body dto.CompleteTaskRequest false "Completion notes"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tasks/{id}/toggle [post]
func (h *TaskHandler) Toggle(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	var req dto.CompleteTaskRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBind(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid toggle payload"))
			return
		}
	}
	submission, err := h.tasks.ToggleCompletion(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, submission)
}

// Create godoc
// @Summary Create a task
// @Tags Tasks
// @Accept multipart/form-data
// @Produce json
// @Param title formData string true "Title"
// @Param description formData string true "Description"
// @Param due_date formData string false "Due date"
// @Param image formData file true "Task image"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /tasks [post]
func (h *TaskHandler) Create(c *gin.Context) {
	req := dto.CreateTaskRequest{
		Title:       strings.TrimSpace(c.PostForm("title")),
		Description: strings.TrimSpace(c.PostForm("description")),
	}
	if raw := strings.TrimSpace(c.PostForm("due_date")); raw != "" {
		due, err := parseDueDate(raw)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "due_date is not a valid date"))
			return
		}
		req.DueDate = &due
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "image is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open image"))
		return
	}
	defer src.Close()

	req.Image = src
	req.ImageName = fileHeader.Filename
	req.ImageType = fileHeader.Header.Get("Content-Type")

	task, err := h.tasks.CreateTask(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, task)
}

// Detail godoc
// @Summary Task detail with per-student submissions
// @Tags Tasks
// @Produce json
// @Param id path int true "Task ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tasks/{id} [get]
func (h *TaskHandler) Detail(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	detail, err := h.tasks.TaskDetail(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, detail)
}

func taskIDParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "task id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func parseDueDate(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range dueDateLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
