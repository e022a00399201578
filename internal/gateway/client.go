package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"tripbooking/internal/domain"
)

// DefaultTimeout bounds every provider round trip.
const DefaultTimeout = 5 * time.Second

const maxErrorBody = 4 << 10

// ErrorDetail is what a driver extracts from a provider error response.
type ErrorDetail struct {
	Code          string
	Message       string
	CorrelationID string
}

// ErrorParser turns a non-2xx response into provider diagnostics.
type ErrorParser func(status int, header http.Header, body []byte) ErrorDetail

// Request is one outbound call. Exactly one of JSON and Form may be set.
type Request struct {
	Method    string
	Path      string
	Query     url.Values
	Header    http.Header
	JSON      any
	Form      url.Values
	BasicUser string
	BasicPass string
	Bearer    string
}

// Client is the shared HTTP plumbing for drivers that speak plain REST.
type Client struct {
	Provider   string
	BaseURL    string
	HTTP       *http.Client
	Log        *zap.Logger
	ParseError ErrorParser
}

func NewClient(provider, baseURL string, timeout time.Duration, log *zap.Logger, parse ErrorParser) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		Provider:   provider,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTP:       &http.Client{Timeout: timeout},
		Log:        log.With(zap.String("provider", provider)),
		ParseError: parse,
	}
}

// Do sends req and decodes a 2xx JSON body into out (when non-nil). Any other
// outcome is returned as a domain.GatewayError after being logged.
func (c *Client) Do(ctx context.Context, op string, req Request, out any) error {
	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return domain.InternalError{Msg: "encode request", Err: err}
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	target := c.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return domain.InternalError{Msg: "build request", Err: err}
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	switch {
	case req.Bearer != "":
		httpReq.Header.Set("Authorization", "Bearer "+req.Bearer)
	case req.BasicUser != "":
		httpReq.SetBasicAuth(req.BasicUser, req.BasicPass)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		gwErr := domain.GatewayError{Provider: c.Provider, Operation: op, Msg: transportMessage(err), Err: err}
		c.Log.Error("gateway request failed",
			zap.String("operation", op),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return gwErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.GatewayError{Provider: c.Provider, Operation: op, HTTPStatus: resp.StatusCode, Msg: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(op, resp.StatusCode, resp.Header, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.Log.Error("gateway response not decodable", zap.String("operation", op), zap.Int("http_status", resp.StatusCode), zap.Error(err))
		return domain.GatewayError{Provider: c.Provider, Operation: op, HTTPStatus: resp.StatusCode, Msg: "invalid response body", Err: err}
	}
	return nil
}

func (c *Client) fail(op string, status int, header http.Header, body []byte) error {
	var detail ErrorDetail
	if c.ParseError != nil {
		detail = c.ParseError(status, header, body)
	}
	if detail.Message == "" {
		detail.Message = http.StatusText(status)
	}
	gwErr := domain.GatewayError{
		Provider:      c.Provider,
		Operation:     op,
		HTTPStatus:    status,
		ProviderCode:  detail.Code,
		CorrelationID: detail.CorrelationID,
		Msg:           detail.Message,
	}
	LogFailure(c.Log, gwErr)
	return gwErr
}

// LogFailure writes the diagnostic line for a failed provider call. Client
// errors the caller can fix log at warn, the rest at error.
func LogFailure(log *zap.Logger, e domain.GatewayError) {
	fields := []zap.Field{
		zap.String("provider", e.Provider),
		zap.String("operation", e.Operation),
		zap.Int("http_status", e.HTTPStatus),
		zap.String("provider_code", e.ProviderCode),
		zap.String("correlation_id", e.CorrelationID),
		zap.String("error_message", e.Msg),
	}
	switch e.HTTPStatus {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict,
		http.StatusUnprocessableEntity, http.StatusTooManyRequests, http.StatusPaymentRequired:
		log.Warn("gateway rejected request", fields...)
	default:
		log.Error("gateway request failed", fields...)
	}
}

// IsNotFound reports a 404 from the provider.
func IsNotFound(err error) bool {
	gwErr, ok := domain.AsGateway(err)
	return ok && gwErr.HTTPStatus == http.StatusNotFound
}

func transportMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return "timeout"
	}
	return fmt.Sprintf("transport: %v", err)
}
