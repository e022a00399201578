// Package paypal drives the PayPal Orders v2 API.
package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/gateway"
	"tripbooking/internal/utils"
)

const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"
)

type Config struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	Sandbox      bool
	BaseURL      string
	ReturnURL    string
	CancelURL    string
	Currency     string
	BrandName    string
	Timeout      time.Duration
}

type Gateway struct {
	cfg    Config
	client *gateway.Client
	log    *zap.Logger

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

func New(cfg Config, log *zap.Logger) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = LiveBaseURL
		if cfg.Sandbox {
			cfg.BaseURL = SandboxBaseURL
		}
	}
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		cfg:    cfg,
		client: gateway.NewClient(string(models.ProviderPayPal), cfg.BaseURL, cfg.Timeout, log, parseError),
		log:    log.With(zap.String("provider", string(models.ProviderPayPal))),
		now:    time.Now,
	}
}

func (g *Gateway) Provider() models.Provider { return models.ProviderPayPal }

// accessToken returns a cached OAuth2 token, fetching a new one a minute
// before the old one expires.
func (g *Gateway) accessToken(ctx context.Context) (string, error) {
	g.tokenMu.Lock()
	defer g.tokenMu.Unlock()
	if g.token != "" && g.now().Before(g.tokenExpiry) {
		return g.token, nil
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	err := g.client.Do(ctx, "oauth_token", gateway.Request{
		Method:    http.MethodPost,
		Path:      "/v1/oauth2/token",
		Form:      url.Values{"grant_type": []string{"client_credentials"}},
		BasicUser: g.cfg.ClientID,
		BasicPass: g.cfg.ClientSecret,
	}, &out)
	if err != nil {
		return "", err
	}
	ttl := time.Duration(out.ExpiresIn)*time.Second - time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	g.token = out.AccessToken
	g.tokenExpiry = g.now().Add(ttl)
	return g.token, nil
}

func (g *Gateway) call(ctx context.Context, op string, req gateway.Request, out any) error {
	token, err := g.accessToken(ctx)
	if err != nil {
		return err
	}
	req.Bearer = token
	return g.client.Do(ctx, op, req, out)
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount money  `json:"amount"`
	Links  []link `json:"links"`
}

type order struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Intent        string `json:"intent"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		CustomID    string `json:"custom_id"`
		Payments    struct {
			Captures []capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o order) firstCapture() (capture, bool) {
	for _, pu := range o.PurchaseUnits {
		if len(pu.Payments.Captures) > 0 {
			return pu.Payments.Captures[0], true
		}
	}
	return capture{}, false
}

func (o order) customID() string {
	for _, pu := range o.PurchaseUnits {
		if pu.CustomID != "" {
			return pu.CustomID
		}
	}
	return ""
}

func linkFor(links []link, rels ...string) string {
	for _, rel := range rels {
		for _, l := range links {
			if l.Rel == rel {
				return l.Href
			}
		}
	}
	return ""
}

func (g *Gateway) CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.PaymentResponse, error) {
	if err := gateway.ValidateCreate(req); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = g.cfg.Currency
	}
	intent := "CAPTURE"
	if !req.AutoCapture {
		intent = "AUTHORIZE"
	}
	unit := map[string]any{
		"description": utils.Truncate(req.Description, 127),
		"amount":      money{CurrencyCode: currency, Value: utils.FormatMinor(req.Amount)},
	}
	if id := req.Metadata["booking_id"]; id != "" {
		unit["reference_id"] = "booking_" + id
		unit["custom_id"] = id
	}
	body := map[string]any{
		"intent":         intent,
		"purchase_units": []any{unit},
		"application_context": map[string]any{
			"return_url":          g.cfg.ReturnURL,
			"cancel_url":          g.cfg.CancelURL,
			"brand_name":          g.cfg.BrandName,
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
		},
	}

	var out order
	err := g.call(ctx, "create_payment", gateway.Request{
		Method: http.MethodPost,
		Path:   "/v2/checkout/orders",
		Header: http.Header{
			"Paypal-Request-Id": []string{gateway.NewIdempotencyKey()},
			"Prefer":            []string{"return=representation"},
		},
		JSON: body,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &gateway.PaymentResponse{
		PaymentID:        out.ID,
		RedirectURL:      linkFor(out.Links, "approve", "payer-action"),
		Status:           mapOrderStatus(out.Status),
		ConfirmationType: string(gateway.ConfirmRedirect),
		Metadata:         map[string]any{"intent": intent, "native_status": out.Status},
	}, nil
}

// CapturePayment captures an approved order. The returned PaymentID is the
// capture id, which refunds are issued against.
func (g *Gateway) CapturePayment(ctx context.Context, orderID string, _ int64, _ string) (*gateway.PaymentResponse, error) {
	var out order
	err := g.call(ctx, "capture_payment", gateway.Request{
		Method: http.MethodPost,
		Path:   "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture",
		Header: http.Header{
			"Paypal-Request-Id": []string{gateway.NewIdempotencyKey()},
			"Prefer":            []string{"return=representation"},
		},
		JSON: map[string]any{},
	}, &out)
	if err != nil {
		return nil, err
	}
	resp := &gateway.PaymentResponse{
		PaymentID: out.ID,
		Status:    mapOrderStatus(out.Status),
		Metadata:  map[string]any{"order_id": out.ID, "native_status": out.Status},
	}
	if c, ok := out.firstCapture(); ok {
		resp.PaymentID = c.ID
		resp.Status = mapCaptureStatus(c.Status)
	}
	return resp, nil
}

func (g *Gateway) CancelPayment(context.Context, string) (*gateway.PaymentResponse, error) {
	return nil, gateway.Unsupported(models.ProviderPayPal, "cancel (orders expire on their own)")
}

func (g *Gateway) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResponse, error) {
	if err := gateway.ValidateRefund(req); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = g.cfg.Currency
	}
	var out struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		Amount     money  `json:"amount"`
		CreateTime string `json:"create_time"`
	}
	err := g.call(ctx, "create_refund", gateway.Request{
		Method: http.MethodPost,
		Path:   "/v2/payments/captures/" + url.PathEscape(req.PaymentID) + "/refund",
		Header: http.Header{"Paypal-Request-Id": []string{gateway.NewIdempotencyKey()}},
		JSON:   map[string]any{"amount": money{CurrencyCode: currency, Value: utils.FormatMinor(req.Amount)}},
	}, &out)
	if err != nil {
		return nil, err
	}
	value := req.Amount
	if out.Amount.Value != "" {
		if v, err := utils.ParseMinor(out.Amount.Value); err == nil {
			value = v
		}
	}
	created, _ := time.Parse(time.RFC3339, out.CreateTime)
	return &gateway.RefundResponse{
		RefundID:  out.ID,
		Status:    out.Status,
		Amount:    value,
		PaymentID: req.PaymentID,
		CreatedAt: created,
	}, nil
}

func (g *Gateway) GetPaymentInfo(ctx context.Context, orderID string) (map[string]any, error) {
	var out map[string]any
	err := g.call(ctx, "get_payment", gateway.Request{
		Method: http.MethodGet,
		Path:   "/v2/checkout/orders/" + url.PathEscape(orderID),
	}, &out)
	if gateway.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

type webhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

// HandleCallback accepts two shapes: a signed webhook (verified through the
// verify-webhook-signature API) and the buyer's return redirect carrying
// ?token=<order id>, which is settled by capturing the order server side.
func (g *Gateway) HandleCallback(ctx context.Context, req gateway.CallbackRequest) (*gateway.CallbackResult, error) {
	if len(strings.TrimSpace(string(req.Body))) == 0 {
		orderID := req.Query.Get("token")
		if orderID == "" {
			return nil, domain.ValidationError{Field: "token", Msg: "missing order token"}
		}
		return g.settleOrder(ctx, orderID, "return_redirect")
	}

	if err := g.verifySignature(ctx, req); err != nil {
		return nil, err
	}
	var ev webhookEvent
	if err := json.Unmarshal(req.Body, &ev); err != nil {
		return nil, domain.ValidationError{Field: "body", Msg: "malformed webhook", Err: err}
	}

	switch ev.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		var o order
		if err := json.Unmarshal(ev.Resource, &o); err != nil {
			return nil, domain.ValidationError{Field: "resource", Msg: "malformed order", Err: err}
		}
		if o.Intent == "AUTHORIZE" {
			return &gateway.CallbackResult{Status: gateway.StatusWaitingForCapture, TransactionID: o.ID, ReferenceID: o.ID, EventType: ev.EventType}, nil
		}
		return g.settleOrder(ctx, o.ID, ev.EventType)
	case "CHECKOUT.ORDER.VOIDED":
		var o order
		if err := json.Unmarshal(ev.Resource, &o); err != nil {
			return nil, domain.ValidationError{Field: "resource", Msg: "malformed order", Err: err}
		}
		return &gateway.CallbackResult{Status: gateway.StatusCancelled, TransactionID: o.ID, ReferenceID: o.ID, EventType: ev.EventType}, nil
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.PENDING", "PAYMENT.CAPTURE.DECLINED":
		var c struct {
			capture
			CustomID          string `json:"custom_id"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		}
		if err := json.Unmarshal(ev.Resource, &c); err != nil {
			return nil, domain.ValidationError{Field: "resource", Msg: "malformed capture", Err: err}
		}
		return &gateway.CallbackResult{
			Status:        mapCaptureStatus(c.Status),
			TransactionID: c.ID,
			ReferenceID:   c.SupplementaryData.RelatedIDs.OrderID,
			EventType:     ev.EventType,
			Metadata:      map[string]any{"booking_id": c.CustomID, "amount": c.Amount.Value, "currency": c.Amount.CurrencyCode},
		}, nil
	case "PAYMENT.CAPTURE.REFUNDED":
		var r struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Links  []link `json:"links"`
		}
		if err := json.Unmarshal(ev.Resource, &r); err != nil {
			return nil, domain.ValidationError{Field: "resource", Msg: "malformed refund", Err: err}
		}
		captureID := ""
		if up := linkFor(r.Links, "up"); up != "" {
			captureID = path.Base(up)
		}
		return &gateway.CallbackResult{Status: gateway.StatusRefunded, TransactionID: captureID, EventType: ev.EventType, Metadata: map[string]any{"refund_id": r.ID}}, nil
	default:
		return &gateway.CallbackResult{Status: gateway.StatusPending, EventType: ev.EventType}, nil
	}
}

// settleOrder captures orderID, falling back to reading the order when it
// was already captured by an earlier delivery.
func (g *Gateway) settleOrder(ctx context.Context, orderID, eventType string) (*gateway.CallbackResult, error) {
	resp, err := g.CapturePayment(ctx, orderID, 0, "")
	if err != nil {
		gwErr, ok := domain.AsGateway(err)
		if !ok || gwErr.HTTPStatus != http.StatusUnprocessableEntity {
			return nil, err
		}
		var o order
		if err := g.call(ctx, "get_payment", gateway.Request{Method: http.MethodGet, Path: "/v2/checkout/orders/" + url.PathEscape(orderID)}, &o); err != nil {
			return nil, err
		}
		result := &gateway.CallbackResult{Status: mapOrderStatus(o.Status), TransactionID: o.ID, ReferenceID: o.ID, EventType: eventType}
		if c, ok := o.firstCapture(); ok {
			result.TransactionID = c.ID
			result.Status = mapCaptureStatus(c.Status)
		}
		return result, nil
	}
	return &gateway.CallbackResult{
		Status:        resp.Status,
		TransactionID: resp.PaymentID,
		ReferenceID:   orderID,
		EventType:     eventType,
		Metadata:      resp.Metadata,
	}, nil
}

func (g *Gateway) verifySignature(ctx context.Context, req gateway.CallbackRequest) error {
	h := req.Header
	body := map[string]any{
		"auth_algo":         h.Get("Paypal-Auth-Algo"),
		"cert_url":          h.Get("Paypal-Cert-Url"),
		"transmission_id":   h.Get("Paypal-Transmission-Id"),
		"transmission_sig":  h.Get("Paypal-Transmission-Sig"),
		"transmission_time": h.Get("Paypal-Transmission-Time"),
		"webhook_id":        g.cfg.WebhookID,
		"webhook_event":     json.RawMessage(req.Body),
	}
	for _, k := range []string{"auth_algo", "cert_url", "transmission_id", "transmission_sig", "transmission_time"} {
		if body[k] == "" {
			g.log.Warn("webhook missing signature header", zap.String("field", k), zap.Bool("security", true))
			return domain.IntegrityError{Provider: string(models.ProviderPayPal), Msg: "missing " + k}
		}
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := g.call(ctx, "verify_webhook", gateway.Request{
		Method: http.MethodPost,
		Path:   "/v1/notifications/verify-webhook-signature",
		JSON:   body,
	}, &out); err != nil {
		return err
	}
	if out.VerificationStatus != "SUCCESS" {
		g.log.Warn("webhook signature rejected",
			zap.String("verification_status", out.VerificationStatus),
			zap.String("transmission_id", h.Get("Paypal-Transmission-Id")),
			zap.Bool("security", true),
		)
		return domain.IntegrityError{Provider: string(models.ProviderPayPal)}
	}
	return nil
}

func mapOrderStatus(s string) gateway.Status {
	switch s {
	case "COMPLETED":
		return gateway.StatusSuccess
	case "VOIDED":
		return gateway.StatusCancelled
	default:
		return gateway.StatusPending
	}
}

func mapCaptureStatus(s string) gateway.Status {
	switch s {
	case "COMPLETED":
		return gateway.StatusSuccess
	case "DECLINED", "FAILED", "DENIED":
		return gateway.StatusFailed
	case "REFUNDED", "PARTIALLY_REFUNDED":
		return gateway.StatusRefunded
	default:
		return gateway.StatusPending
	}
}

func parseError(_ int, header http.Header, body []byte) gateway.ErrorDetail {
	var e struct {
		Name             string `json:"name"`
		Message          string `json:"message"`
		DebugID          string `json:"debug_id"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Details          []struct {
			Issue       string `json:"issue"`
			Description string `json:"description"`
		} `json:"details"`
	}
	_ = json.Unmarshal(body, &e)
	d := gateway.ErrorDetail{Code: e.Name, Message: e.Message, CorrelationID: e.DebugID}
	if d.Code == "" {
		d.Code = e.Error
		d.Message = e.ErrorDescription
	}
	if len(e.Details) > 0 {
		d.Code += "/" + e.Details[0].Issue
		if e.Details[0].Description != "" {
			d.Message += ": " + e.Details[0].Description
		}
	}
	if d.CorrelationID == "" {
		d.CorrelationID = header.Get("Paypal-Debug-Id")
	}
	return d
}
