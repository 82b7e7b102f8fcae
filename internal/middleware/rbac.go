package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/robotask-client/internal/models"
	appErrors "github.com/noah-isme/robotask-client/pkg/errors"
	"github.com/noah-isme/robotask-client/pkg/response"
)

// RequireRoles enforces role-based access for routes behind RequireSession.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		session := SessionFromContext(c)
		if session == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthenticated, "sign in required"))
			return
		}
		if _, ok := allowed[session.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "not available for "+string(session.Role)+" accounts"))
			return
		}
		c.Next()
	}
}
