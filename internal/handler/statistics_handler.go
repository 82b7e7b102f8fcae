package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
	"github.com/noah-isme/robotask-client/internal/service"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
	"github.com/noah-isme/robotask-client/pkg/export"
	"github.com/noah-isme/robotask-client/pkg/response"
)

type statisticsService interface {
	FetchOverview(ctx context.Context) (*models.StatisticsOverview, error)
	FetchPerTask(ctx context.Context) ([]models.TaskStatistic, error)
	FetchPerStudent(ctx context.Context) ([]models.StudentStatistic, error)
}

type exportService interface {
	Generate(ctx context.Context, req dto.ExportRequest) (*service.ExportResult, error)
	Open(token string) (*os.File, string, error)
}

// StatisticsHandler serves the admin statistics panels and exports.
type StatisticsHandler struct {
	stats   statisticsService
	exports exportService
}

// NewStatisticsHandler constructs the handler.
func NewStatisticsHandler(stats statisticsService, exports exportService) *StatisticsHandler {
	return &StatisticsHandler{stats: stats, exports: exports}
}

// Overview godoc
// @Summary Completion overview
// @Tags Statistics
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /statistics/overview [get]
func (h *StatisticsHandler) Overview(c *gin.Context) {
	overview, err := h.stats.FetchOverview(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, overview)
}

// PerTask godoc
// @Summary Completion per task
// @Tags Statistics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /statistics/tasks [get]
func (h *StatisticsHandler) PerTask(c *gin.Context) {
	items, err := h.stats.FetchPerTask(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items, map[string]interface{}{"count": len(items)})
}

// PerStudent godoc
// @Summary Completion per student
// @Tags Statistics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /statistics/students [get]
func (h *StatisticsHandler) PerStudent(c *gin.Context) {
	items, err := h.stats.FetchPerStudent(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items, map[string]interface{}{"count": len(items)})
}

// Export godoc
// @Summary Export statistics
// @Description Renders the statistics as CSV or PDF and returns a signed download link.
// @Tags Statistics
// @Accept json
// @Produce json
// @Param payload body dto.ExportRequest true "Export format"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /statistics/export [post]
func (h *StatisticsHandler) Export(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	var req dto.ExportRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "format must be csv or pdf"))
		return
	}
	result, err := h.exports.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download an export via signed token
// @Tags Statistics
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /downloads/{token} [get]
func (h *StatisticsHandler) Download(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	file, filename, err := h.exports.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}
	contentType := "application/octet-stream"
	if format, perr := export.ParseFormat(strings.TrimPrefix(filepath.Ext(filename), ".")); perr == nil {
		contentType = format.ContentType()
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}
