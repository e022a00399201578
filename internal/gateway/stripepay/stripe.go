// Package stripepay drives Stripe Checkout through stripe-go.
package stripepay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/gateway"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// APIURL overrides https://api.stripe.com, for tests and stripe-mock.
	APIURL      string
	SuccessURL  string
	CancelURL   string
	Currency    string
	ProductName string
	Timeout     time.Duration
}

type Gateway struct {
	cfg Config
	api *client.API
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Gateway {
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	if cfg.ProductName == "" {
		cfg.ProductName = "Trip booking"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = gateway.DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &Gateway{cfg: cfg, api: api, log: log.With(zap.String("provider", string(models.ProviderStripe)))}
}

func (g *Gateway) Provider() models.Provider { return models.ProviderStripe }

// CreatePayment opens a Checkout Session. The session id is the payment id
// until the webhook reports the PaymentIntent.
func (g *Gateway) CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.PaymentResponse, error) {
	if err := gateway.ValidateCreate(req); err != nil {
		return nil, err
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = g.cfg.Currency
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(g.cfg.SuccessURL),
		CancelURL:          stripe.String(g.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(g.cfg.ProductName),
					Description: stripe.String(req.Description),
				},
				UnitAmount: stripe.Int64(req.Amount),
			},
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	params.SetIdempotencyKey(gateway.NewIdempotencyKey())
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if id := req.Metadata["booking_id"]; id != "" {
		params.ClientReferenceID = stripe.String(id)
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, g.fail("create_payment", err)
	}
	return &gateway.PaymentResponse{
		PaymentID:        sess.ID,
		RedirectURL:      sess.URL,
		Status:           mapSession(sess),
		ConfirmationType: string(gateway.ConfirmRedirect),
		Metadata:         map[string]any{"session_status": string(sess.Status)},
	}, nil
}

func (g *Gateway) CapturePayment(context.Context, string, int64, string) (*gateway.PaymentResponse, error) {
	return nil, gateway.Unsupported(models.ProviderStripe, "capture")
}

func (g *Gateway) CancelPayment(context.Context, string) (*gateway.PaymentResponse, error) {
	return nil, gateway.Unsupported(models.ProviderStripe, "cancel")
}

func (g *Gateway) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResponse, error) {
	if err := gateway.ValidateRefund(req); err != nil {
		return nil, err
	}
	intentID := req.PaymentID
	if strings.HasPrefix(intentID, "cs_") {
		sess, err := g.getSession(ctx, intentID)
		if err != nil {
			return nil, g.fail("create_refund", err)
		}
		if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
			return nil, domain.ValidationError{Field: "payment_id", Msg: "checkout session has no payment to refund"}
		}
		intentID = sess.PaymentIntent.ID
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(req.Amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey(gateway.NewIdempotencyKey())

	rf, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, g.fail("create_refund", err)
	}
	return &gateway.RefundResponse{
		RefundID:  rf.ID,
		Status:    string(rf.Status),
		Amount:    rf.Amount,
		PaymentID: intentID,
		CreatedAt: time.Unix(rf.Created, 0).UTC(),
	}, nil
}

func (g *Gateway) GetPaymentInfo(ctx context.Context, paymentID string) (map[string]any, error) {
	var (
		record any
		err    error
	)
	if strings.HasPrefix(paymentID, "cs_") {
		record, err = g.getSession(ctx, paymentID)
	} else {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		record, err = g.api.PaymentIntents.Get(paymentID, params)
	}
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, g.fail("get_payment", err)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, domain.InternalError{Msg: "encode payment info", Err: err}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, domain.InternalError{Msg: "decode payment info", Err: err}
	}
	return out, nil
}

func (g *Gateway) getSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	return g.api.CheckoutSessions.Get(id, params)
}

// HandleCallback verifies the Stripe-Signature header before reading the
// event.
func (g *Gateway) HandleCallback(_ context.Context, req gateway.CallbackRequest) (*gateway.CallbackResult, error) {
	event, err := webhook.ConstructEventWithOptions(req.Body, req.Header.Get("Stripe-Signature"), g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		g.log.Warn("webhook signature rejected", zap.Error(err), zap.Bool("security", true))
		return nil, domain.IntegrityError{Provider: string(models.ProviderStripe), Err: err}
	}
	if event.Data == nil {
		return &gateway.CallbackResult{Status: gateway.StatusPending, EventType: string(event.Type)}, nil
	}

	result := &gateway.CallbackResult{
		Status:    gateway.StatusPending,
		EventType: string(event.Type),
		Metadata:  map[string]any{"event_id": event.ID},
	}
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, domain.ValidationError{Field: "data", Msg: "malformed checkout session", Err: err}
		}
		switch event.Type {
		case "checkout.session.expired":
			result.Status = gateway.StatusCancelled
		case "checkout.session.async_payment_failed":
			result.Status = gateway.StatusFailed
		default:
			result.Status = mapSession(&sess)
		}
		result.ReferenceID = sess.ID
		result.TransactionID = sess.ID
		if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
			result.TransactionID = sess.PaymentIntent.ID
		}
		result.Metadata["payment_status"] = string(sess.PaymentStatus)
		result.Metadata["amount_total"] = sess.AmountTotal
		for k, v := range sess.Metadata {
			result.Metadata[k] = v
		}
	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, domain.ValidationError{Field: "data", Msg: "malformed payment intent", Err: err}
		}
		result.Status = gateway.StatusFailed
		result.TransactionID = pi.ID
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, domain.ValidationError{Field: "data", Msg: "malformed charge", Err: err}
		}
		result.Status = gateway.StatusRefunded
		if ch.PaymentIntent != nil {
			result.TransactionID = ch.PaymentIntent.ID
		}
		result.Metadata["amount_refunded"] = ch.AmountRefunded
	}
	return result, nil
}

func (g *Gateway) fail(op string, err error) error {
	gwErr := domain.GatewayError{Provider: string(models.ProviderStripe), Operation: op, Err: err}
	var se *stripe.Error
	if errors.As(err, &se) {
		gwErr.HTTPStatus = se.HTTPStatusCode
		gwErr.ProviderCode = string(se.Type)
		if se.Code != "" {
			gwErr.ProviderCode += "/" + string(se.Code)
		}
		gwErr.CorrelationID = se.RequestID
		gwErr.Msg = se.Msg
	} else {
		gwErr.Msg = err.Error()
	}
	gateway.LogFailure(g.log, gwErr)
	return gwErr
}

func mapSession(s *stripe.CheckoutSession) gateway.Status {
	switch s.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid:
		return gateway.StatusSuccess
	default:
		return gateway.StatusPending
	}
}
