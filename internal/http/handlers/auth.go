package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type magicLinkRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Token string `json:"token"`
}

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RequestMagicLink issues a single-use login link for the bookings of an
// email.
func (h *Handler) RequestMagicLink(c *gin.Context) {
	var req magicLinkRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	link, err := h.Auth.RequestMagicLink(c.Request.Context(), req.Email)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	resp := gin.H{
		"message":    "login link sent",
		"email":      link.Email,
		"expires_at": link.ExpiresAt,
	}
	if h.ExposeLoginToken {
		resp["debug_token"] = link.Token
		resp["debug_url"] = link.URL
	}
	c.JSON(http.StatusOK, resp)
}

// Login redeems a magic-link token for an account session.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	sess, bookings, err := h.Auth.Login(c.Request.Context(), req.Token)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      sess.Token,
		"email":      sess.Email,
		"expires_at": sess.ExpiresAt,
		"bookings":   bookings,
	})
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	sess, err := h.Auth.AdminLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sess})
}
