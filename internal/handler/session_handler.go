package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
	"github.com/noah-isme/robotask-client/internal/service"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
	"github.com/noah-isme/robotask-client/pkg/response"
)

type sessionService interface {
	Session() *models.Session
	State() service.AuthState
	Login(ctx context.Context, req dto.LoginRequest) (*models.Session, error)
	Register(ctx context.Context, req dto.RegisterRequest) (*models.UserProfile, error)
	Logout(ctx context.Context) error
}

// SessionPayload is the public view of the session. The bearer token stays
// on the server side.
type SessionPayload struct {
	Authenticated bool                `json:"authenticated"`
	State         service.AuthState   `json:"state"`
	Username      string              `json:"username,omitempty"`
	Role          models.Role         `json:"role,omitempty"`
	RoleLabel     string              `json:"role_label,omitempty"`
	Greeting      string              `json:"greeting,omitempty"`
	Profile       *models.UserProfile `json:"profile,omitempty"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
}

// SessionHandler exposes sign-in, sign-out and registration.
type SessionHandler struct {
	auth sessionService
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(auth sessionService) *SessionHandler {
	return &SessionHandler{auth: auth}
}

// Current godoc
// @Summary Current session
// @Tags Session
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /session [get]
func (h *SessionHandler) Current(c *gin.Context) {
	response.OK(c, sessionPayload(h.auth.State(), h.auth.Session()))
}

// Login godoc
// @Summary Sign in against the task API
// @Tags Session
// @Accept json
// @Accept x-www-form-urlencoded
// @Produce json
// @Param payload body dto.LoginRequest true "Credentials"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /session/login [post]
func (h *SessionHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	session, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sessionPayload(service.StateAuthenticated, session))
}

// Logout godoc
// @Summary Sign out
// @Tags Session
// @Success 204
// @Router /session/logout [post]
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Register godoc
// @Summary Create an account
// @Tags Session
// @Accept json
// @Accept x-www-form-urlencoded
// @Produce json
// @Param payload body dto.RegisterRequest true "Registration"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /register [post]
func (h *SessionHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	profile, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, profile)
}

func sessionPayload(state service.AuthState, session *models.Session) SessionPayload {
	if session == nil {
		return SessionPayload{State: state}
	}
	profile := session.Profile
	return SessionPayload{
		Authenticated: true,
		State:         state,
		Username:      session.Username,
		Role:          session.Role,
		RoleLabel:     session.Role.Label(),
		Greeting:      service.Greeting(session),
		Profile:       &profile,
		ExpiresAt:     session.ExpiresAt,
	}
}
