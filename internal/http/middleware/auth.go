package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tripbooking/internal/domain"
)

const (
	userEmailKey = "userEmail"
	userRoleKey  = "userRole"
)

// SessionParser turns a bearer token into the principal it was issued to.
type SessionParser interface {
	ParseSession(raw string) (domain.RequestContext, error)
}

// Authenticate reads an optional bearer token. A valid token puts userEmail
// and userRole on the context; an invalid one is rejected with 401. Requests
// without a token pass through anonymous.
func Authenticate(sessions SessionParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			c.Next()
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abortUnauthorized(c, "malformed authorization header")
			return
		}
		rc, err := sessions.ParseSession(strings.TrimSpace(raw))
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}
		c.Set(userEmailKey, rc.Email)
		c.Set(userRoleKey, rc.Role)
		c.Next()
	}
}

// RequireSession rejects anonymous requests.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(userEmailKey) == "" {
			abortUnauthorized(c, "login required")
			return
		}
		c.Next()
	}
}

// Principal returns the authenticated caller, empty when anonymous.
func Principal(c *gin.Context) domain.RequestContext {
	return domain.RequestContext{Email: c.GetString(userEmailKey), Role: c.GetString(userRoleKey)}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":      msg,
		"code":       "unauthorized",
		"request_id": GetRequestID(c),
	})
}
