package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/robotask-client/internal/service"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
	"github.com/noah-isme/robotask-client/pkg/response"
)

type viewResolver interface {
	Resolve() service.View
	Load(ctx context.Context) (service.View, error)
}

// ViewPayload tags the resolved view with its kind.
type ViewPayload struct {
	Kind service.ViewKind `json:"kind"`
	View service.View     `json:"view"`
}

// ViewHandler serves the role-dependent screen.
type ViewHandler struct {
	router viewResolver
}

// NewViewHandler constructs the handler.
func NewViewHandler(router viewResolver) *ViewHandler {
	return &ViewHandler{router: router}
}

// Current godoc
// @Summary Resolve the view for the current session
// @Description With refresh=true the backing controllers reload first. A failed reload still returns the last good view with a warning in meta.
// @Tags View
// @Produce json
// @Param refresh query bool false "Reload before resolving"
// @Success 200 {object} response.Envelope
// @Router /view [get]
func (h *ViewHandler) Current(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))
	if !refresh {
		view := h.router.Resolve()
		response.OK(c, ViewPayload{Kind: view.Kind(), View: view})
		return
	}

	view, err := h.router.Load(c.Request.Context())
	payload := ViewPayload{Kind: view.Kind(), View: view}
	if err != nil {
		response.OK(c, payload, map[string]interface{}{
			"warning": appErrors.UserMessage("refresh failed", err),
			"code":    appErrors.FromError(err).Code,
		})
		return
	}
	response.OK(c, payload)
}
