package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripbooking/internal/domain"
)

func TestRespondDomainErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domain.ValidationError{Field: "seats", Msg: "must be at least 1"}, http.StatusBadRequest, "validation_error"},
		{"insufficient seats", domain.ValidationError{Field: "seats", Err: domain.ErrInsufficientSeats}, http.StatusUnprocessableEntity, "insufficient_seats"},
		{"integrity", domain.IntegrityError{Provider: "stripe", Msg: "bad signature"}, http.StatusBadRequest, "integrity_error"},
		{"unauthorized", domain.UnauthorizedError{}, http.StatusUnauthorized, "unauthorized"},
		{"not found", domain.NotFoundError{Resource: "booking"}, http.StatusNotFound, "not_found"},
		{"invalid transition", domain.InvalidTransitionError{Action: "cancel", From: "refunded"}, http.StatusConflict, "invalid_transition"},
		{"conflict", domain.ConflictError{Resource: "booking"}, http.StatusConflict, "conflict"},
		{"unsupported", domain.UnsupportedOperationError{Provider: "webpay", Operation: "capture"}, http.StatusUnprocessableEntity, "unsupported"},
		{"gateway", domain.GatewayError{Provider: "paypal", Operation: "create_refund", HTTPStatus: 503}, http.StatusBadGateway, "gateway_error"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			RespondDomainError(c, tc.err)

			assert.Equal(t, tc.status, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	RespondDomainError(c, errors.New("dial tcp 10.0.0.5:3306: connection refused"))

	assert.NotContains(t, w.Body.String(), "10.0.0.5")
}
