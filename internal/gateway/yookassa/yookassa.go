// Package yookassa drives the YooKassa v3 API (bank cards, SBP).
package yookassa

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/gateway"
	"tripbooking/internal/utils"
)

const DefaultBaseURL = "https://api.yookassa.ru/v3"

// DefaultTrustedNetworks are the published notification source ranges.
var DefaultTrustedNetworks = []string{
	"185.71.76.0/27",
	"185.71.77.0/27",
	"77.75.153.0/25",
	"77.75.156.11/32",
	"77.75.156.35/32",
	"77.75.154.128/25",
	"2a02:5180::/32",
}

type Config struct {
	ShopID    string
	SecretKey string
	BaseURL   string
	ReturnURL string
	Currency  string
	Timeout   time.Duration
	// TrustedNetworks restricts callback source addresses. Empty disables
	// the check; the status re-fetch still applies.
	TrustedNetworks []string
}

type Gateway struct {
	cfg     Config
	client  *gateway.Client
	log     *zap.Logger
	trusted []*net.IPNet
}

func New(cfg Config, log *zap.Logger) (*Gateway, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "RUB"
	}
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		cfg:    cfg,
		client: gateway.NewClient(string(models.ProviderYooKassa), cfg.BaseURL, cfg.Timeout, log, parseError),
		log:    log.With(zap.String("provider", string(models.ProviderYooKassa))),
	}
	for _, cidr := range cfg.TrustedNetworks {
		_, n, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, domain.ValidationError{Field: "yookassa.trusted_networks", Msg: "invalid CIDR " + cidr, Err: err}
		}
		g.trusted = append(g.trusted, n)
	}
	return g, nil
}

func (g *Gateway) Provider() models.Provider { return models.ProviderYooKassa }

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmation struct {
	Type              string `json:"type"`
	ReturnURL         string `json:"return_url,omitempty"`
	ConfirmationURL   string `json:"confirmation_url,omitempty"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`
	ConfirmationData  string `json:"confirmation_data,omitempty"`
}

type payment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       amount            `json:"amount"`
	Confirmation *confirmation     `json:"confirmation,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"created_at"`
}

type refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Amount    amount `json:"amount"`
	CreatedAt string `json:"created_at"`
}

func (g *Gateway) idempotent() http.Header {
	return http.Header{"Idempotence-Key": []string{gateway.NewIdempotencyKey()}}
}

func (g *Gateway) request(method, path string) gateway.Request {
	return gateway.Request{
		Method:    method,
		Path:      path,
		BasicUser: g.cfg.ShopID,
		BasicPass: g.cfg.SecretKey,
	}
}

func (g *Gateway) CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.PaymentResponse, error) {
	if err := gateway.ValidateCreate(req); err != nil {
		return nil, err
	}
	currency := req.Currency
	if currency == "" {
		currency = g.cfg.Currency
	}
	kind := req.Confirmation
	if kind == "" {
		kind = gateway.ConfirmRedirect
	}
	conf := confirmation{Type: string(kind)}
	if kind == gateway.ConfirmRedirect {
		conf.ReturnURL = g.cfg.ReturnURL
	}

	body := map[string]any{
		"amount":       amount{Value: utils.FormatMinor(req.Amount), Currency: strings.ToUpper(currency)},
		"capture":      req.AutoCapture,
		"description":  utils.Truncate(req.Description, 128),
		"metadata":     req.Metadata,
		"confirmation": conf,
	}
	if req.Receipt != nil {
		body["receipt"] = req.Receipt
	}

	r := g.request(http.MethodPost, "/payments")
	r.Header = g.idempotent()
	r.JSON = body
	var out payment
	if err := g.client.Do(ctx, "create_payment", r, &out); err != nil {
		return nil, err
	}
	return g.toResponse(out, string(kind)), nil
}

func (g *Gateway) CapturePayment(ctx context.Context, paymentID string, amt int64, currency string) (*gateway.PaymentResponse, error) {
	r := g.request(http.MethodPost, "/payments/"+paymentID+"/capture")
	r.Header = g.idempotent()
	body := map[string]any{}
	if amt > 0 {
		if currency == "" {
			currency = g.cfg.Currency
		}
		body["amount"] = amount{Value: utils.FormatMinor(amt), Currency: strings.ToUpper(currency)}
	}
	r.JSON = body
	var out payment
	if err := g.client.Do(ctx, "capture_payment", r, &out); err != nil {
		return nil, err
	}
	return g.toResponse(out, ""), nil
}

func (g *Gateway) CancelPayment(ctx context.Context, paymentID string) (*gateway.PaymentResponse, error) {
	r := g.request(http.MethodPost, "/payments/"+paymentID+"/cancel")
	r.Header = g.idempotent()
	r.JSON = map[string]any{}
	var out payment
	if err := g.client.Do(ctx, "cancel_payment", r, &out); err != nil {
		return nil, err
	}
	return g.toResponse(out, ""), nil
}

func (g *Gateway) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResponse, error) {
	if err := gateway.ValidateRefund(req); err != nil {
		return nil, err
	}
	currency := req.Currency
	if currency == "" {
		currency = g.cfg.Currency
	}
	body := map[string]any{
		"payment_id": req.PaymentID,
		"amount":     amount{Value: utils.FormatMinor(req.Amount), Currency: strings.ToUpper(currency)},
	}
	if req.Receipt != nil {
		body["receipt"] = req.Receipt
	}
	r := g.request(http.MethodPost, "/refunds")
	r.Header = g.idempotent()
	r.JSON = body
	var out refund
	if err := g.client.Do(ctx, "create_refund", r, &out); err != nil {
		return nil, err
	}
	value, err := utils.ParseMinor(out.Amount.Value)
	if err != nil {
		value = req.Amount
	}
	created, _ := time.Parse(time.RFC3339, out.CreatedAt)
	paymentID := out.PaymentID
	if paymentID == "" {
		paymentID = req.PaymentID
	}
	return &gateway.RefundResponse{
		RefundID:  out.ID,
		Status:    out.Status,
		Amount:    value,
		PaymentID: paymentID,
		CreatedAt: created,
	}, nil
}

func (g *Gateway) GetPaymentInfo(ctx context.Context, paymentID string) (map[string]any, error) {
	var out map[string]any
	err := g.client.Do(ctx, "get_payment", g.request(http.MethodGet, "/payments/"+paymentID), &out)
	if gateway.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

type notification struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Object json.RawMessage `json:"object"`
}

// HandleCallback trusts nothing in the body: the source address must be in
// the trusted ranges and the object's status is re-read from the API.
func (g *Gateway) HandleCallback(ctx context.Context, req gateway.CallbackRequest) (*gateway.CallbackResult, error) {
	if !g.trustedSource(req.RemoteIP) {
		g.log.Warn("callback from untrusted address", zap.String("remote_ip", req.RemoteIP), zap.Bool("security", true))
		return nil, domain.IntegrityError{Provider: string(models.ProviderYooKassa), Msg: "untrusted source address"}
	}

	var n notification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return nil, domain.ValidationError{Field: "body", Msg: "malformed notification", Err: err}
	}

	// The notification body is only a hint. The object is fetched back from
	// the API and that state is what gets reported, so a redelivered or
	// overtaken notification still yields the current status.
	if strings.HasPrefix(n.Event, "refund.") {
		var obj refund
		if err := json.Unmarshal(n.Object, &obj); err != nil || obj.ID == "" {
			return nil, domain.ValidationError{Field: "object", Msg: "malformed refund object", Err: err}
		}
		var fresh refund
		if err := g.verify(ctx, "verify_refund", "/refunds/"+obj.ID, &fresh); err != nil {
			return nil, err
		}
		if fresh.ID != obj.ID || (obj.PaymentID != "" && fresh.PaymentID != obj.PaymentID) {
			return nil, g.mismatch(obj.ID, "refund belongs to another payment")
		}
		g.logStale(obj.ID, obj.Status, fresh.Status)
		status := gateway.StatusPending
		if fresh.Status == "succeeded" {
			status = gateway.StatusRefunded
		}
		return &gateway.CallbackResult{
			Status:        status,
			TransactionID: fresh.PaymentID,
			EventType:     n.Event,
			Metadata:      map[string]any{"refund_id": fresh.ID, "amount": fresh.Amount.Value},
		}, nil
	}

	var obj payment
	if err := json.Unmarshal(n.Object, &obj); err != nil || obj.ID == "" {
		return nil, domain.ValidationError{Field: "object", Msg: "malformed payment object", Err: err}
	}
	var fresh payment
	if err := g.verify(ctx, "verify_payment", "/payments/"+obj.ID, &fresh); err != nil {
		return nil, err
	}
	if fresh.ID != obj.ID {
		return nil, g.mismatch(obj.ID, "payment id differs from API")
	}
	g.logStale(obj.ID, obj.Status, fresh.Status)

	meta := map[string]any{"amount": fresh.Amount.Value, "currency": fresh.Amount.Currency, "native_status": fresh.Status}
	for k, v := range fresh.Metadata {
		meta[k] = v
	}
	return &gateway.CallbackResult{
		Status:        mapStatus(fresh.Status),
		TransactionID: fresh.ID,
		EventType:     n.Event,
		Metadata:      meta,
	}, nil
}

// verify fetches an object named by a notification. An object the API does
// not know was not sent by YooKassa.
func (g *Gateway) verify(ctx context.Context, op, path string, out any) error {
	err := g.client.Do(ctx, op, g.request(http.MethodGet, path), out)
	if gateway.IsNotFound(err) {
		return g.mismatch(strings.TrimPrefix(path, "/"), "object unknown to the API")
	}
	return err
}

func (g *Gateway) logStale(id, claimed, actual string) {
	if claimed != "" && claimed != actual {
		g.log.Info("notification overtaken by API state",
			zap.String("object_id", id),
			zap.String("claimed", claimed),
			zap.String("actual", actual),
		)
	}
}

func (g *Gateway) mismatch(id, reason string) error {
	g.log.Warn("callback does not match API",
		zap.String("object_id", id),
		zap.String("reason", reason),
		zap.Bool("security", true),
	)
	return domain.IntegrityError{Provider: string(models.ProviderYooKassa), Msg: "notification does not match API: " + reason}
}

func (g *Gateway) trustedSource(remote string) bool {
	if len(g.trusted) == 0 {
		return true
	}
	ip := net.ParseIP(strings.TrimSpace(remote))
	if ip == nil {
		return false
	}
	for _, n := range g.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (g *Gateway) toResponse(p payment, kind string) *gateway.PaymentResponse {
	resp := &gateway.PaymentResponse{
		PaymentID:        p.ID,
		Status:           mapStatus(p.Status),
		ConfirmationType: kind,
		Metadata:         map[string]any{"native_status": p.Status, "paid": p.Paid},
	}
	if c := p.Confirmation; c != nil {
		if resp.ConfirmationType == "" {
			resp.ConfirmationType = c.Type
		}
		switch {
		case c.ConfirmationURL != "":
			resp.RedirectURL = c.ConfirmationURL
		case c.ConfirmationToken != "":
			resp.RedirectURL = c.ConfirmationToken
		case c.ConfirmationData != "":
			resp.RedirectURL = c.ConfirmationData
		}
	}
	return resp
}

func mapStatus(native string) gateway.Status {
	switch native {
	case "succeeded":
		return gateway.StatusSuccess
	case "canceled":
		return gateway.StatusCancelled
	case "waiting_for_capture":
		return gateway.StatusWaitingForCapture
	default:
		return gateway.StatusPending
	}
}

func parseError(_ int, _ http.Header, body []byte) gateway.ErrorDetail {
	var e struct {
		ID          string `json:"id"`
		Code        string `json:"code"`
		Description string `json:"description"`
		Parameter   string `json:"parameter"`
	}
	_ = json.Unmarshal(body, &e)
	msg := e.Description
	if e.Parameter != "" {
		msg += " (" + e.Parameter + ")"
	}
	return gateway.ErrorDetail{Code: e.Code, Message: msg, CorrelationID: e.ID}
}
