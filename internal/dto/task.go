package dto

import (
	"io"
	"time"
)

// AllowedImageTypes are the image MIME types the task API accepts.
var AllowedImageTypes = []string{"image/jpeg", "image/png", "image/jpg"}

// CreateTaskRequest is the admin task creation form. Image is streamed as a
// multipart part; ImageType is checked before upload.
type CreateTaskRequest struct {
	Title       string     `validate:"required,max=200"`
	Description string     `validate:"required"`
	DueDate     *time.Time `validate:"omitempty"`
	ImageName   string     `validate:"required"`
	ImageType   string     `validate:"required,oneof=image/jpeg image/png image/jpg"`
	Image       io.Reader  `validate:"required"`
}

// CompleteTaskRequest carries the optional note attached on completion.
type CompleteTaskRequest struct {
	Notes string `json:"notes" form:"notes" validate:"omitempty,max=2000"`
}

// ExportRequest selects the statistics export format.
type ExportRequest struct {
	Format string `json:"format" form:"format" validate:"required,oneof=csv pdf"`
}
