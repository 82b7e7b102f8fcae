package cli

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
)

var dueLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

func (c *CLI) view(ctx context.Context, args []string) error {
	fs := c.flagSet("view")
	refresh := fs.Bool("refresh", true, "reload from the task API before rendering")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if !*refresh {
		c.renderView(c.app.Router.Resolve())
		return nil
	}
	view, err := c.app.Router.Load(ctx)
	c.renderView(view)
	if err != nil {
		return failure("refresh failed", err)
	}
	return nil
}

func (c *CLI) tasks(ctx context.Context, args []string) error {
	fs := c.flagSet("tasks")
	refresh := fs.Bool("refresh", true, "reload from the task API before listing")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if c.app.Auth.Session() == nil {
		fmt.Fprintln(c.out, notSignedIn)
		return nil
	}
	snapshot := c.app.Tasks.Snapshot()
	if *refresh {
		fresh, err := c.app.Tasks.Refresh(ctx)
		if err != nil {
			return failure("could not load tasks", err)
		}
		snapshot = *fresh
	}
	if snapshot.Role == models.RoleAdmin {
		c.renderTasks(snapshot.Tasks)
		return nil
	}
	c.renderSubmissions(snapshot.Submissions, snapshot.Progress)
	return nil
}

func (c *CLI) toggle(ctx context.Context, args []string) error {
	fs := c.flagSet("toggle")
	notes := fs.String("notes", "", "note attached when completing")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	id, err := taskIDArg(fs.Args())
	if err != nil {
		fs.Usage()
		return ErrUsage
	}
	if err := c.requireSession(); err != nil {
		return err
	}
	if _, err := c.app.Tasks.Refresh(ctx); err != nil {
		return failure("could not load tasks", err)
	}
	submission, err := c.app.Tasks.ToggleCompletion(ctx, id, dto.CompleteTaskRequest{Notes: *notes})
	if err != nil {
		return failure("could not update task", err)
	}
	state := "pending"
	if submission.Completed {
		state = "completed"
	}
	fmt.Fprintf(c.out, "Task #%d %q marked %s.\n", submission.TaskID(), submission.Task.Title, state)
	progress := c.app.Tasks.Snapshot().Progress
	fmt.Fprintf(c.out, "Progress: %s\n", formatProgress(progress))
	return nil
}

func (c *CLI) task(ctx context.Context, args []string) error {
	fs := c.flagSet("task")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	id, err := taskIDArg(fs.Args())
	if err != nil {
		fs.Usage()
		return ErrUsage
	}
	if err := c.requireSession(); err != nil {
		return err
	}
	detail, err := c.app.Tasks.TaskDetail(ctx, id)
	if err != nil {
		return failure("could not load task", err)
	}
	c.renderTaskDetail(detail)
	return nil
}

func (c *CLI) createTask(ctx context.Context, args []string) error {
	fs := c.flagSet("create-task")
	title := fs.String("title", "", "task title")
	description := fs.String("description", "", "task description")
	due := fs.String("due", "", "due date, YYYY-MM-DD or RFC 3339")
	image := fs.String("image", "", "path to a JPEG or PNG image")
	if err := c.parse(fs, args); err != nil {
		return err
	}

	if err := c.requireSession(); err != nil {
		return err
	}
	req := dto.CreateTaskRequest{
		Title:       strings.TrimSpace(*title),
		Description: strings.TrimSpace(*description),
	}
	if *due != "" {
		dueDate, err := parseDue(*due)
		if err != nil {
			return &CommandError{Message: fmt.Sprintf("could not create task: due date %q is not a date", *due), Err: err}
		}
		req.DueDate = &dueDate
	}
	if *image != "" {
		file, err := os.Open(*image)
		if err != nil {
			return &CommandError{Message: "could not create task: cannot read image " + *image, Err: err}
		}
		defer file.Close()
		contentType, err := imageContentType(file)
		if err != nil {
			return &CommandError{Message: "could not create task: cannot read image " + *image, Err: err}
		}
		req.Image = file
		req.ImageName = filepath.Base(*image)
		req.ImageType = contentType
	}

	task, err := c.app.Tasks.CreateTask(ctx, req)
	if err != nil {
		return failure("could not create task", err)
	}
	fmt.Fprintf(c.out, "Created task #%d %q.\n", task.ID, task.Title)
	return nil
}

func taskIDArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one task id, got %d arguments", len(args))
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("task id %q is not a positive integer", args[0])
	}
	return id, nil
}

func parseDue(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range dueLayouts {
		t, err := time.ParseInLocation(layout, raw, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// imageContentType sniffs the file header and falls back to the extension.
// The file is rewound afterwards.
func imageContentType(file *os.File) (string, error) {
	head := make([]byte, 512)
	n, err := file.Read(head)
	if err != nil && n == 0 {
		return "", err
	}
	if _, err := file.Seek(0, 0); err != nil {
		return "", err
	}
	sniffed := http.DetectContentType(head[:n])
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed, nil
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(file.Name()))); byExt != "" {
		return strings.SplitN(byExt, ";", 2)[0], nil
	}
	return sniffed, nil
}
