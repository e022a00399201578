package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"tripbooking/internal/domain"
)

type stubSessions map[string]domain.RequestContext

func (s stubSessions) ParseSession(raw string) (domain.RequestContext, error) {
	rc, ok := s[raw]
	if !ok {
		return domain.RequestContext{}, errors.New("invalid session")
	}
	return rc, nil
}

func newTestEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	handlers := append(mw, func(c *gin.Context) {
		p := Principal(c)
		c.JSON(http.StatusOK, gin.H{"email": p.Email, "role": p.Role})
	})
	r.GET("/x", handlers...)
	return r
}

func do(r http.Handler, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestIDIsGeneratedOrKept(t *testing.T) {
	r := newTestEngine()

	w := do(r, nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)

	w = do(r, map[string]string{"X-Request-ID": "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestAuthenticateAndRoles(t *testing.T) {
	sessions := stubSessions{
		"admin-token": {Email: "ops@trips.example", Role: "admin"},
		"user-token":  {Email: "anna@example.com", Role: "customer"},
	}
	admin := newTestEngine(Authenticate(sessions), RequireRoles("admin"))
	account := newTestEngine(Authenticate(sessions), RequireSession())

	assert.Equal(t, http.StatusUnauthorized, do(admin, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(admin, map[string]string{"Authorization": "Bearer user-token"}).Code)
	assert.Equal(t, http.StatusOK, do(admin, map[string]string{"Authorization": "Bearer admin-token"}).Code)

	assert.Equal(t, http.StatusUnauthorized, do(account, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(account, map[string]string{"Authorization": "Bearer nope"}).Code)
	assert.Equal(t, http.StatusUnauthorized, do(account, map[string]string{"Authorization": "Basic abc"}).Code)

	w := do(account, map[string]string{"Authorization": "Bearer user-token"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"email":"anna@example.com","role":"customer"}`, w.Body.String())
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(0), 2)
	r := newTestEngine(rl.Middleware())

	assert.Equal(t, http.StatusOK, do(r, nil).Code)
	assert.Equal(t, http.StatusOK, do(r, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, nil).Code)

	assert.True(t, rl.allow("10.0.0.9"))
}
