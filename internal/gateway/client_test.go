package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
)

func TestClientDoDecodesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "key-1", r.Header.Get("Idempotence-Key"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)
		_, _ = w.Write([]byte(`{"id":"p1"}`))
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL, time.Second, zap.NewNop(), nil)
	var out struct {
		ID string `json:"id"`
	}
	err := c.Do(context.Background(), "create", Request{
		Method:    http.MethodPost,
		Path:      "/payments",
		JSON:      map[string]any{"a": 1},
		Header:    http.Header{"Idempotence-Key": []string{"key-1"}},
		BasicUser: "shop",
		BasicPass: "secret",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "p1", out.ID)
}

func TestClientDoMapsErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid_request"}`))
	}))
	defer srv.Close()

	parse := func(status int, _ http.Header, body []byte) ErrorDetail {
		return ErrorDetail{Code: "invalid_request", Message: "bad amount", CorrelationID: "corr-1"}
	}
	c := NewClient("test", srv.URL, time.Second, zap.NewNop(), parse)
	err := c.Do(context.Background(), "refund", Request{Method: http.MethodPost, Path: "/refunds"}, nil)

	gwErr, ok := domain.AsGateway(err)
	require.True(t, ok)
	assert.Equal(t, "test", gwErr.Provider)
	assert.Equal(t, "refund", gwErr.Operation)
	assert.Equal(t, http.StatusBadRequest, gwErr.HTTPStatus)
	assert.Equal(t, "invalid_request", gwErr.ProviderCode)
	assert.Equal(t, "corr-1", gwErr.CorrelationID)
	assert.False(t, gwErr.Retryable())
}

func TestClientDoServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL, time.Second, nil, nil)
	err := c.Do(context.Background(), "info", Request{Method: http.MethodGet, Path: "/x"}, nil)
	gwErr, ok := domain.AsGateway(err)
	require.True(t, ok)
	assert.True(t, gwErr.Retryable())
}

func TestClientDoTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL, 20*time.Millisecond, nil, nil)
	err := c.Do(context.Background(), "create", Request{Method: http.MethodGet, Path: "/slow"}, nil)
	gwErr, ok := domain.AsGateway(err)
	require.True(t, ok)
	assert.Equal(t, 0, gwErr.HTTPStatus)
	assert.True(t, gwErr.Retryable())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(domain.GatewayError{HTTPStatus: 404}))
	assert.False(t, IsNotFound(domain.GatewayError{HTTPStatus: 500}))
}

func TestValidateCreate(t *testing.T) {
	err := ValidateCreate(CreatePaymentRequest{Amount: 0, Description: "x"})
	assert.True(t, domain.IsValidation(err))
	assert.NoError(t, ValidateCreate(CreatePaymentRequest{Amount: 1, Description: "x"}))
	assert.True(t, domain.IsValidation(ValidateRefund(RefundRequest{PaymentID: "p", Amount: -1})))
}

type stubGateway struct{ Gateway }

func (stubGateway) Provider() models.Provider { return models.ProviderStripe }

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubGateway{}, nil)
	gw, err := r.Get(models.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderStripe, gw.Provider())

	_, err = r.Get(models.ProviderPayPal)
	assert.True(t, domain.IsUnsupported(err))

	_, err = r.Get(models.ProviderPayOnArrival)
	assert.True(t, domain.IsValidation(err))

	_, err = r.Get("bitcoin")
	assert.True(t, domain.IsValidation(err))

	assert.Equal(t, []models.Provider{models.ProviderStripe}, r.Providers())
}
