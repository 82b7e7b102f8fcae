package service

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
	"github.com/noah-isme/robotask-client/internal/repository"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
	"github.com/noah-isme/robotask-client/pkg/jobs"
)

// AuthState is the position of the auth state machine.
type AuthState string

const (
	StateUnauthenticated AuthState = "unauthenticated"
	StateAuthenticating  AuthState = "authenticating"
	StateAuthenticated   AuthState = "authenticated"
)

// JobServerLogout is the queue kind used for the best-effort server logout.
const JobServerLogout = "server_logout"

type authAPI interface {
	Login(ctx context.Context, username, password string) (*models.TokenResponse, error)
	Me(ctx context.Context, token string) (*models.UserProfile, error)
	Register(ctx context.Context, req dto.RegisterRequest) (*models.UserProfile, error)
	Logout(ctx context.Context, token string) error
}

type jobEnqueuer interface {
	Enqueue(kind string, payload interface{}) (string, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	Timeout      time.Duration
	ServerLogout bool
}

// AuthService owns the session: it is the only writer of the session store
// and the token source of the API client.
type AuthService struct {
	api       authAPI
	store     repository.SessionRepository
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	queue     jobEnqueuer
	config    AuthConfig
	now       func() time.Time

	loginMu   sync.Mutex
	mu        sync.RWMutex
	state     AuthState
	session   *models.Session
	listeners []func(*models.Session)
}

// NewAuthService constructs an AuthService instance in the unauthenticated
// state. queue may be nil when server logout is disabled.
func NewAuthService(api authAPI, store repository.SessionRepository, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, queue jobEnqueuer, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &AuthService{
		api:       api,
		store:     store,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		queue:     queue,
		config:    config,
		now:       time.Now,
		state:     StateUnauthenticated,
	}
}

// OnSessionChange registers fn to be called after every sign-in and sign-out
// with the new session (nil when signed out).
func (s *AuthService) OnSessionChange(fn func(*models.Session)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Token returns the current bearer token, or "" when signed out.
func (s *AuthService) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.Token
}

// Session returns a copy of the current session, or nil.
func (s *AuthService) Session() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Clone()
}

// State returns the current state.
func (s *AuthService) State() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Role returns the current role and whether a session exists.
func (s *AuthService) Role() (models.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return "", false
	}
	return s.session.Role, true
}

// Login authenticates against the API, persists the session and returns it.
// On failure the store is untouched and the previous state is restored.
func (s *AuthService) Login(ctx context.Context, req dto.LoginRequest) (*models.Session, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "username and password are required")
	}

	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	s.mu.Lock()
	previous := s.state
	s.state = StateAuthenticating
	s.mu.Unlock()

	session, err := s.authenticate(ctx, req)
	if err != nil {
		s.mu.Lock()
		s.state = previous
		s.mu.Unlock()
		s.logger.Info("login failed", zap.String("username", req.Username), zap.String("code", appErrors.FromError(err).Code))
		return nil, err
	}

	s.mu.Lock()
	s.session = session
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.logger.Info("login succeeded", zap.String("username", session.Username), zap.String("role", string(session.Role)))
	s.notify(session)
	return session.Clone(), nil
}

func (s *AuthService) authenticate(ctx context.Context, req dto.LoginRequest) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	token, err := s.api.Login(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, appErrors.API(http.StatusBadGateway, "server returned an empty token")
	}

	profile, err := s.api.Me(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	username := profile.Username
	if username == "" {
		username = req.Username
	}
	session := &models.Session{
		Token:     token.AccessToken,
		Username:  username,
		Role:      models.NormalizeRole(*profile),
		Profile:   *profile,
		ExpiresAt: tokenExpiry(token.AccessToken),
		SavedAt:   s.now().UTC(),
	}

	start := time.Now()
	err = s.store.Save(ctx, session)
	s.metrics.ObserveStoreOperation("save", err, time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save session")
	}
	return session, nil
}

// Register creates an account. It never signs in.
func (s *AuthService) Register(ctx context.Context, req dto.RegisterRequest) (*models.UserProfile, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, registerValidationMessage(err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	profile, err := s.api.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account registered", zap.String("username", req.Username), zap.Bool("is_admin", req.IsAdmin))
	return profile, nil
}

// RestoreSession loads the persisted session without contacting the server.
// A nil session with a nil error means nothing usable was stored.
func (s *AuthService) RestoreSession(ctx context.Context) (*models.Session, error) {
	start := time.Now()
	session, found, err := s.store.Load(ctx)
	s.metrics.ObserveStoreOperation("load", err, time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read stored session")
	}
	if !found {
		return nil, nil
	}

	if session.Expired(s.now()) {
		s.logger.Info("stored session expired", zap.String("username", session.Username))
		if err := s.store.Clear(ctx); err != nil {
			s.logger.Warn("failed to clear expired session", zap.Error(err))
		}
		return nil, nil
	}

	s.mu.Lock()
	s.session = session
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.notify(session)
	return session.Clone(), nil
}

// Logout drops the session locally and then, when enabled, queues the server
// call. Local state never depends on the server answering.
func (s *AuthService) Logout(ctx context.Context) error {
	token := s.drop()

	start := time.Now()
	err := s.store.Clear(ctx)
	s.metrics.ObserveStoreOperation("clear", err, time.Since(start))

	if token != "" && s.config.ServerLogout && s.queue != nil {
		if _, qErr := s.queue.Enqueue(JobServerLogout, token); qErr != nil {
			s.logger.Warn("server logout not queued", zap.Error(qErr))
		}
	}

	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear stored session")
	}
	s.logger.Info("logged out")
	return nil
}

// HandleUnauthorized forces a logout when the server rejected the current
// token. It reports whether the session was dropped; a rejection of an older
// token is ignored.
func (s *AuthService) HandleUnauthorized(token string) bool {
	s.mu.Lock()
	if s.session == nil || token == "" || s.session.Token != token {
		s.mu.Unlock()
		return false
	}
	s.session = nil
	s.state = StateUnauthenticated
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear rejected session", zap.Error(err))
	}
	s.logger.Warn("session rejected by server, signed out")
	s.notify(nil)
	return true
}

// ServerLogoutHandler returns the queue handler that performs the remote
// logout for a queued token.
func (s *AuthService) ServerLogoutHandler() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		token, ok := job.Payload.(string)
		if !ok || token == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
		err := s.api.Logout(ctx, token)
		if appErrors.HasCode(err, appErrors.CodeUnauthorized) {
			return nil
		}
		return err
	}
}

func (s *AuthService) drop() string {
	s.mu.Lock()
	var token string
	if s.session != nil {
		token = s.session.Token
	}
	hadSession := s.session != nil
	s.session = nil
	s.state = StateUnauthenticated
	s.mu.Unlock()

	if hadSession {
		s.notify(nil)
	}
	return token
}

func (s *AuthService) notify(session *models.Session) {
	s.mu.RLock()
	listeners := append([]func(*models.Session){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(session.Clone())
	}
}

// tokenExpiry reads the exp claim without verifying the signature; the server
// stays the validator.
func tokenExpiry(token string) *time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	exp := claims.ExpiresAt.Time.UTC()
	return &exp
}

func registerValidationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid registration"
	}
	fe := verrs[0]
	switch {
	case fe.Tag() == "required":
		return "all fields are required"
	case fe.Field() == "Email":
		return "email address is not valid"
	case fe.Field() == "ConfirmPassword":
		return "passwords do not match"
	}
	return "invalid registration"
}
