package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
)

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, username, password string) (*models.TokenResponse, error) {
	var out models.TokenResponse
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/login",
		Form:   url.Values{"username": {username}, "password": {password}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Me fetches the profile of the token's owner. An empty token falls back to
// the registered token source.
func (c *Client) Me(ctx context.Context, token string) (*models.UserProfile, error) {
	var out models.UserProfile
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/me", RequiresAuth: true, Token: token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account. It does not sign in.
func (c *Client) Register(ctx context.Context, req dto.RegisterRequest) (*models.UserProfile, error) {
	var out models.UserProfile
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/register",
		Form: url.Values{
			"email":    {req.Email},
			"username": {req.Username},
			"password": {req.Password},
			"is_admin": {strconv.FormatBool(req.IsAdmin)},
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout asks the server to end the token's session.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: "/logout", RequiresAuth: true, Token: token}, nil)
}

// MyTasks lists the signed-in student's submissions.
func (c *Client) MyTasks(ctx context.Context) ([]models.Submission, error) {
	out := []models.Submission{}
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/my-tasks", RequiresAuth: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tasks lists every task.
func (c *Client) Tasks(ctx context.Context) ([]models.Task, error) {
	out := []models.Task{}
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/tasks", RequiresAuth: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TaskDetail fetches a task with its per-student submissions.
func (c *Client) TaskDetail(ctx context.Context, id int) (*models.TaskDetail, error) {
	var out models.TaskDetail
	err := c.Do(ctx, Request{
		Method:       http.MethodGet,
		Path:         fmt.Sprintf("/tasks/%d", id),
		Route:        "/tasks/{id}",
		RequiresAuth: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteTask marks the student's submission as done.
func (c *Client) CompleteTask(ctx context.Context, id int, notes string) error {
	form := url.Values{}
	if notes != "" {
		form.Set("notes", notes)
	}
	return c.Do(ctx, Request{
		Method:       http.MethodPut,
		Path:         fmt.Sprintf("/tasks/%d/complete", id),
		Route:        "/tasks/{id}/complete",
		Form:         form,
		RequiresAuth: true,
	}, nil)
}

// UncompleteTask reverts a completion.
func (c *Client) UncompleteTask(ctx context.Context, id int) error {
	return c.Do(ctx, Request{
		Method:       http.MethodPut,
		Path:         fmt.Sprintf("/tasks/%d/uncomplete", id),
		Route:        "/tasks/{id}/uncomplete",
		RequiresAuth: true,
	}, nil)
}

// CreateTask uploads a new task with its image.
func (c *Client) CreateTask(ctx context.Context, req dto.CreateTaskRequest) (*models.Task, error) {
	fields := url.Values{
		"title":       {req.Title},
		"description": {req.Description},
	}
	if req.DueDate != nil {
		fields.Set("due_date", req.DueDate.UTC().Format("2006-01-02T15:04:05"))
	}
	var out models.Task
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/tasks",
		Multipart: &Multipart{
			Fields: fields,
			File: &FilePart{
				Field:       "image",
				FileName:    req.ImageName,
				ContentType: req.ImageType,
				Content:     req.Image,
			},
		},
		RequiresAuth: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Overview fetches the global completion figures.
func (c *Client) Overview(ctx context.Context) (*models.StatisticsOverview, error) {
	var out models.StatisticsOverview
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/statistics/overview", RequiresAuth: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TaskStatistics fetches the per-task rollup.
func (c *Client) TaskStatistics(ctx context.Context) ([]models.TaskStatistic, error) {
	out := []models.TaskStatistic{}
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/statistics/tasks", RequiresAuth: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StudentStatistics fetches the per-student rollup.
func (c *Client) StudentStatistics(ctx context.Context) ([]models.StudentStatistic, error) {
	out := []models.StudentStatistic{}
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/statistics/students", RequiresAuth: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
