package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
	"github.com/noah-isme/robotask-client/pkg/export"
	"github.com/noah-isme/robotask-client/pkg/storage"
)

type dashboardFetcher interface {
	FetchDashboard(ctx context.Context) (*models.StatisticsDashboard, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	DownloadPrefix string
	ResultTTL      time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	ID        string        `json:"id"`
	FileName  string        `json:"file_name"`
	Format    export.Format `json:"format"`
	Token     string        `json:"token"`
	URL       string        `json:"url"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// ExportService renders the admin statistics and publishes them behind
// signed download links.
type ExportService struct {
	stats     dashboardFetcher
	storage   fileStorage
	signer    *storage.SignedURLSigner
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(stats dashboardFetcher, files fileStorage, signer *storage.SignedURLSigner, validate *validator.Validate, logger *zap.Logger, cfg ExportConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.DownloadPrefix == "" {
		cfg.DownloadPrefix = "/api/downloads"
	}
	return &ExportService{
		stats:     stats,
		storage:   files,
		signer:    signer,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Render fetches the dashboard and encodes it without storing anything.
func (s *ExportService) Render(ctx context.Context, req dto.ExportRequest) ([]byte, export.Format, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}

	dashboard, err := s.stats.FetchDashboard(ctx)
	if err != nil {
		return nil, "", err
	}

	payload, err := export.Render(format, StatisticsDocument(dashboard, s.now()))
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return payload, format, nil
}

// Generate renders the export, stores it and signs a download link.
func (s *ExportService) Generate(ctx context.Context, req dto.ExportRequest) (*ExportResult, error) {
	payload, format, err := s.Render(ctx, req)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	filename := fmt.Sprintf("statistics_%s_%s%s", s.now().UTC().Format("20060102_150405"), id[:8], format.Extension())
	if _, err := s.storage.Save(filename, payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	token, expiresAt, err := s.signer.Generate(id, filename)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}

	s.logger.Info("statistics export generated", zap.String("export_id", id), zap.String("file", filename), zap.Int("bytes", len(payload)))
	return &ExportResult{
		ID:        id,
		FileName:  filename,
		Format:    format,
		Token:     token,
		URL:       strings.TrimRight(s.cfg.DownloadPrefix, "/") + "/" + token,
		ExpiresAt: expiresAt,
	}, nil
}

// Open validates a download token and returns the stored file with its name.
func (s *ExportService) Open(token string) (*os.File, string, error) {
	_, filename, err := s.signer.Parse(token)
	switch err {
	case nil:
	case storage.ErrExpiredToken:
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "download link expired")
	default:
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "download link is not valid")
	}
	file, err := s.storage.Open(filename)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export no longer available")
	}
	return file, filename, nil
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

// StatisticsDocument lays the dashboard out as an export document.
func StatisticsDocument(dashboard *models.StatisticsDashboard, generatedAt time.Time) export.Document {
	doc := export.Document{Title: "Robotics task statistics", GeneratedAt: generatedAt.UTC()}
	if dashboard == nil {
		dashboard = &models.StatisticsDashboard{}
	}

	overview := export.Section{Title: "Overview", Headers: []string{"metric", "value"}}
	if o := dashboard.Overview; o != nil {
		overview.Rows = [][]string{
			{"total_tasks", strconv.Itoa(o.TotalTasks)},
			{"total_students", strconv.Itoa(o.TotalStudents)},
			{"total_submissions", strconv.Itoa(o.TotalSubmissions)},
			{"completed_submissions", strconv.Itoa(o.CompletedSubmissions)},
			{"pending_submissions", strconv.Itoa(o.PendingSubmissions)},
			{"overall_completion_rate", formatRate(o.OverallCompletionRate)},
		}
	}

	perTask := export.Section{
		Title:   "Tasks",
		Headers: []string{"task_id", "title", "assigned", "completed", "pending", "completion_rate", "created_at"},
	}
	for _, t := range dashboard.PerTask {
		created := ""
		if !t.CreatedAt.IsZero() {
			created = t.CreatedAt.Format("2006-01-02")
		}
		perTask.Rows = append(perTask.Rows, []string{
			strconv.Itoa(t.TaskID), t.TaskTitle, strconv.Itoa(t.TotalAssignments),
			strconv.Itoa(t.Completed), strconv.Itoa(t.Pending), formatRate(t.CompletionRate), created,
		})
	}

	perStudent := export.Section{
		Title:   "Students",
		Headers: []string{"student_id", "name", "email", "tasks", "completed", "pending", "completion_rate"},
	}
	for _, st := range dashboard.PerStudent {
		perStudent.Rows = append(perStudent.Rows, []string{
			strconv.Itoa(st.StudentID), st.StudentName, st.StudentEmail, strconv.Itoa(st.TotalTasks),
			strconv.Itoa(st.CompletedTasks), strconv.Itoa(st.PendingTasks), formatRate(st.CompletionRate),
		})
	}

	doc.Sections = []export.Section{overview, perTask, perStudent}
	return doc
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 2, 64)
}
