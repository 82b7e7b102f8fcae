package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/robotask-client/internal/models"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
	"github.com/noah-isme/robotask-client/pkg/response"
)

// ContextSessionKey is the gin context key storing the active session.
const ContextSessionKey = "currentSession"

type sessionSource interface {
	Session() *models.Session
}

// RequireSession rejects requests while nobody is signed in and stores the
// session on the context.
func RequireSession(auth sessionSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := auth.Session()
		if session == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthenticated, "sign in required"))
			return
		}
		c.Set(ContextSessionKey, session)
		c.Next()
	}
}

// SessionFromContext returns the session stored by RequireSession.
func SessionFromContext(c *gin.Context) *models.Session {
	value, exists := c.Get(ContextSessionKey)
	if !exists {
		return nil
	}
	session, ok := value.(*models.Session)
	if !ok {
		return nil
	}
	return session
}
