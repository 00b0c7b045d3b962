package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidesmith/slidesmith-backend/internal/logger"
)

const UserIDKey = "user_id"

// IdentityMiddleware resolves the acting user for a request. Identity comes
// from the X-User-ID header or, for EventSource connections that cannot set
// headers, a user_id query parameter. Token verification happens upstream at
// the gateway.
type IdentityMiddleware struct {
	log *logger.Logger
}

func NewIdentityMiddleware(baseLog *logger.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{log: baseLog.With("middleware", "IdentityMiddleware")}
}

func (m *IdentityMiddleware) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractUserID(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user identity"})
			return
		}
		c.Set(UserIDKey, id)
		c.Next()
	}
}

func extractUserID(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
		return h
	}
	return strings.TrimSpace(c.Query("user_id"))
}

// RequestUserID reads the identity set by RequireUser. Returns uuid.Nil when
// the middleware did not run.
func RequestUserID(c *gin.Context) uuid.UUID {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return uuid.Nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
