package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/robotask-client/internal/dto"
	"github.com/noah-isme/robotask-client/internal/models"
	"github.com/noah-isme/robotask-client/internal/repository"
	"github.com/noah-isme/robotask-client/internal/testutil/fakeapi"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
	"github.com/noah-isme/robotask-client/pkg/jobs"
)

func TestLoginAdminPersistsAdminRole(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()

	session, err := st.auth.Login(ctx, dto.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, session.Role)
	assert.Equal(t, "admin", session.Username)
	require.NotNil(t, session.ExpiresAt)
	assert.True(t, session.ExpiresAt.After(time.Now()))
	assert.Equal(t, StateAuthenticated, st.auth.State())
	assert.Equal(t, session.Token, st.auth.Token())

	stored, found, err := st.store.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.RoleAdmin, stored.Role)
	assert.Equal(t, session.Token, stored.Token)
	assert.True(t, stored.Profile.IsAdmin)
}

func TestLoginStudentRole(t *testing.T) {
	st := newStack(t, nil)
	st.api.AddUser("ana", "secret1", false)

	session, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: " ana ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, session.Role)
}

func TestLoginWrongCredentialsLeavesStoreUnchanged(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()

	_, err := st.auth.Login(ctx, dto.LoginRequest{Username: "admin", Password: "wrong"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.CodeAPI, appErr.Code)
	assert.Equal(t, 401, appErr.Status)
	assert.Equal(t, "Incorrect username or password", appErr.Message)
	assert.Equal(t, StateUnauthenticated, st.auth.State())

	_, found, err := st.store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFailedLoginKeepsExistingSession(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()

	first, err := st.auth.Login(ctx, dto.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	_, err = st.auth.Login(ctx, dto.LoginRequest{Username: "admin", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, StateAuthenticated, st.auth.State())
	assert.Equal(t, first.Token, st.auth.Token())

	stored, found, err := st.store.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.Token, stored.Token)
}

func TestLoginValidationSkipsNetwork(t *testing.T) {
	st := newStack(t, nil)

	_, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "  ", Password: "x"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, 0, st.api.TotalCalls())
}

func TestLoginProfileFailureRestoresState(t *testing.T) {
	st := newStack(t, nil)
	st.api.Fail("GET /me", fakeapi.Failure{Status: 500, Detail: "profile service down"})

	_, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "admin", Password: "admin123"})
	require.Error(t, err)
	assert.Equal(t, "profile service down", appErrors.FromError(err).Message)
	assert.Equal(t, StateUnauthenticated, st.auth.State())
	assert.Empty(t, st.auth.Token())
}

func TestLoginConnectionFailure(t *testing.T) {
	st := newStack(t, nil)
	st.api.Close()

	_, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "admin", Password: "admin123"})
	assert.ErrorIs(t, err, appErrors.ErrConnection)
	assert.Equal(t, StateUnauthenticated, st.auth.State())
}

func TestLoginStoreFailureIsSurfaced(t *testing.T) {
	store := &failingStore{SessionRepository: repository.NewMemorySessionRepository(), saveErr: errDisk}
	st := newStack(t, store)

	_, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "admin", Password: "admin123"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, StateUnauthenticated, st.auth.State())
}

func TestRegisterValidationNeverReachesNetwork(t *testing.T) {
	st := newStack(t, nil)
	cases := map[string]dto.RegisterRequest{
		"missing email":    {Username: "ana", Password: "secret1", ConfirmPassword: "secret1"},
		"bad email":        {Email: "not-an-email", Username: "ana", Password: "secret1", ConfirmPassword: "secret1"},
		"mismatch":         {Email: "ana@school.test", Username: "ana", Password: "secret1", ConfirmPassword: "secret2"},
		"missing password": {Email: "ana@school.test", Username: "ana"},
		"blank username":   {Email: "ana@school.test", Username: "   ", Password: "secret1", ConfirmPassword: "secret1"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := st.auth.Register(context.Background(), req)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
	assert.Equal(t, 0, st.api.TotalCalls())

	_, err := st.auth.Register(context.Background(), cases["mismatch"])
	assert.Equal(t, "passwords do not match", appErrors.FromError(err).Message)
}

func TestRegisterAcceptsShortCredentials(t *testing.T) {
	st := newStack(t, nil)
	req := dto.RegisterRequest{Email: "bo@school.test", Username: "bo", Password: "pw", ConfirmPassword: "pw"}

	profile, err := st.auth.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "bo", profile.Username)
	assert.True(t, st.api.HasUser("bo"))
}

func TestRegisterDoesNotSignIn(t *testing.T) {
	st := newStack(t, nil)
	req := dto.RegisterRequest{Email: "ana@school.test", Username: "ana", Password: "secret1", ConfirmPassword: "secret1"}

	profile, err := st.auth.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ana", profile.Username)
	assert.False(t, profile.IsAdmin)
	assert.Equal(t, StateUnauthenticated, st.auth.State())
	assert.True(t, st.api.HasUser("ana"))

	_, err = st.auth.Register(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "Username or email already registered", appErrors.FromError(err).Message)
}

func TestRestoreSessionWithNothingSaved(t *testing.T) {
	st := newStack(t, nil)

	session, err := st.auth.RestoreSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Equal(t, StateUnauthenticated, st.auth.State())
	assert.Equal(t, 0, st.api.TotalCalls())
}

func TestRestoreSessionTrustsStoreWithoutNetwork(t *testing.T) {
	store := repository.NewMemorySessionRepository()
	first := newStack(t, store)
	session, err := first.auth.Login(context.Background(), dto.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	second := newStack(t, store)
	restored, err := second.auth.RestoreSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, session.Token, restored.Token)
	assert.Equal(t, models.RoleAdmin, restored.Role)
	assert.Equal(t, StateAuthenticated, second.auth.State())
	assert.Equal(t, 0, second.api.TotalCalls())
}

func TestRestoreSessionDiscardsExpiredToken(t *testing.T) {
	store := repository.NewMemorySessionRepository()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.Save(context.Background(), &models.Session{
		Token: "expired", Username: "ana", Role: models.RoleStudent, ExpiresAt: &past,
	}))

	st := newStack(t, store)
	session, err := st.auth.RestoreSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Equal(t, StateUnauthenticated, st.auth.State())

	_, found, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLogoutClearsLocalStateEvenIfStoreFails(t *testing.T) {
	store := &failingStore{SessionRepository: repository.NewMemorySessionRepository()}
	st := newStack(t, store)
	_, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	store.clearErr = errDisk
	err = st.auth.Logout(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateUnauthenticated, st.auth.State())
	assert.Empty(t, st.auth.Token())

	store.clearErr = nil
	require.NoError(t, st.auth.Logout(context.Background()))
	_, found, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLogoutQueuesServerCallAfterLocalClear(t *testing.T) {
	st := newStack(t, nil)
	st.api.Fail("POST /logout", fakeapi.Failure{Status: 503, Detail: "maintenance", Times: 1})

	st.auth.config.ServerLogout = true
	queue := jobs.NewQueue("logout", st.auth.ServerLogoutHandler(), jobs.QueueConfig{MaxRetries: 2, RetryDelay: 10 * time.Millisecond})
	st.auth.queue = queue
	queue.Start(context.Background())

	session, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	require.NoError(t, st.auth.Logout(context.Background()))
	assert.Equal(t, StateUnauthenticated, st.auth.State())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)

	assert.Equal(t, 2, st.api.Calls("POST /logout"))
	assert.Equal(t, "Bearer "+session.Token, st.api.LastHeaders("POST /logout").Get("Authorization"))
}

func TestUnauthorizedResponseForcesLogout(t *testing.T) {
	st := newStack(t, nil)
	st.api.AddUser("ana", "secret1", false)
	st.api.AddTask("Line follower")

	session, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "ana", Password: "secret1"})
	require.NoError(t, err)
	st.api.Revoke(session.Token)

	_, err = st.tasks.Refresh(context.Background())
	assert.ErrorIs(t, err, appErrors.ErrUnauthenticated)
	assert.Equal(t, StateUnauthenticated, st.auth.State())

	_, found, err := st.store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, ViewLogin, st.router.Resolve().Kind())
}

func TestStaleUnauthorizedKeepsNewerSession(t *testing.T) {
	st := newStack(t, nil)
	st.api.AddUser("ana", "secret1", false)
	old, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	current, err := st.auth.Login(context.Background(), dto.LoginRequest{Username: "ana", Password: "secret1"})
	require.NoError(t, err)
	require.NotEqual(t, old.Token, current.Token)

	assert.False(t, st.auth.HandleUnauthorized(old.Token))
	assert.Equal(t, StateAuthenticated, st.auth.State())
	assert.True(t, st.auth.HandleUnauthorized(current.Token))
	assert.Equal(t, StateUnauthenticated, st.auth.State())
}

func TestTokenExpiryIgnoresOpaqueTokens(t *testing.T) {
	assert.Nil(t, tokenExpiry("opaque-token"))
	api := fakeapi.New()
	defer api.Close()
	exp := tokenExpiry(api.IssueToken("admin", time.Hour))
	require.NotNil(t, exp)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *exp, 5*time.Second)
}
