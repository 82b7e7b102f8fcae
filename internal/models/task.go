package models

import "math"

// Task is a robotics assignment created by an administrator.
type Task struct {
	ID          int          `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	ImagePath   *string      `json:"image_path"`
	DueDate     *Timestamp   `json:"due_date"`
	CreatedAt   Timestamp    `json:"created_at"`
	Creator     *UserProfile `json:"creator,omitempty"`
}

// Submission is one student's relationship to one task.
type Submission struct {
	SubmissionID int        `json:"submission_id"`
	Task         Task       `json:"task"`
	Completed    bool       `json:"completed"`
	CompletedAt  *Timestamp `json:"completed_at"`
	Notes        *string    `json:"notes"`
}

// TaskID returns the id of the underlying task.
func (s Submission) TaskID() int {
	return s.Task.ID
}

// StudentSubmission is a submission as seen from the admin task detail.
type StudentSubmission struct {
	ID          int         `json:"id"`
	TaskID      int         `json:"task_id"`
	Student     UserProfile `json:"student"`
	Completed   bool        `json:"completed"`
	CompletedAt *Timestamp  `json:"completed_at"`
	Notes       *string     `json:"notes"`
}

// TaskDetail is GET /tasks/{id}: a task with its submission rollup.
type TaskDetail struct {
	ID             int                 `json:"id"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	ImagePath      *string             `json:"image_path"`
	CreatedAt      Timestamp           `json:"created_at"`
	DueDate        *Timestamp          `json:"due_date"`
	TotalStudents  int                 `json:"total_students"`
	CompletedCount int                 `json:"completed_count"`
	PendingCount   int                 `json:"pending_count"`
	CompletionRate float64             `json:"completion_rate"`
	Submissions    []StudentSubmission `json:"submissions"`
}

// Progress is the student dashboard counter set.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Pending    int `json:"pending"`
	Percentage int `json:"percentage"`
}

// ComputeProgress derives the counters from a submission list.
func ComputeProgress(submissions []Submission) Progress {
	p := Progress{Total: len(submissions)}
	for _, s := range submissions {
		if s.Completed {
			p.Completed++
		}
	}
	p.Pending = p.Total - p.Completed
	if p.Total > 0 {
		p.Percentage = int(math.Round(100 * float64(p.Completed) / float64(p.Total)))
	}
	return p
}
