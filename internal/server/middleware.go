package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/ensmarket/internal/observability/context"
)

const (
	HeaderInternalSecret = "X-Internal-Secret"
	HeaderUserID         = "X-User-Id"

	contextUserIDKey = "user_id"
	maxUserIDLength  = 128
)

// InternalAuthRequired guards the ops endpoints with the shared internal
// secret. An unset secret locks the endpoints entirely.
func (s *Server) InternalAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(s.cfg.ENS.InternalSecret)
		provided := strings.TrimSpace(c.GetHeader(HeaderInternalSecret))
		if expected == "" || provided == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
			AbortWithError(c, ErrInternalOpsUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), "system", "internal-ops")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserRequired trusts the user id set by the upstream auth layer.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" || len(userID) > maxUserIDLength {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		ctx := obscontext.WithActor(c.Request.Context(), "user", userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func userIDFrom(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}
