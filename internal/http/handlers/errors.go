package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/http/middleware"
	"tripbooking/internal/utils"
)

// ErrorResponse standardizes error payloads.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string) {
	if code == "" {
		code = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: middleware.GetRequestID(c),
	})
}

// RespondDomainError maps domain errors to HTTP responses. Internal details
// of unexpected errors are logged, never returned.
func RespondDomainError(c *gin.Context, err error) {
	var verr domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrInsufficientSeats):
		respondError(c, http.StatusUnprocessableEntity, "insufficient_seats", err.Error())
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Error:     err.Error(),
			Code:      "validation_error",
			Field:     verr.Field,
			RequestID: middleware.GetRequestID(c),
		})
	case domain.IsIntegrity(err):
		respondError(c, http.StatusBadRequest, "integrity_error", "callback verification failed")
	case domain.IsUnauthorized(err):
		respondError(c, http.StatusUnauthorized, "unauthorized", err.Error())
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "not_found", err.Error())
	case domain.IsInvalidTransition(err):
		respondError(c, http.StatusConflict, "invalid_transition", err.Error())
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, "conflict", err.Error())
	case domain.IsUnsupported(err):
		respondError(c, http.StatusUnprocessableEntity, "unsupported", err.Error())
	case domain.IsGateway(err):
		respondError(c, http.StatusBadGateway, "gateway_error", "payment provider error")
	default:
		utils.Logger().Error("unhandled error",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		respondError(c, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
