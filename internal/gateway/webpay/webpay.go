// Package webpay drives the WebPay (Belarus) payment gateway.
package webpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/gateway"
	"tripbooking/internal/utils"
)

const (
	SandboxBaseURL = "https://sandbox.webpay.by"
	LiveBaseURL    = "https://billing.webpay.by"

	signatureField = "wsb_signature"
)

type Config struct {
	StoreID   string
	SecretKey string
	TestMode  bool
	BaseURL   string
	ReturnURL string
	CancelURL string
	NotifyURL string
	Currency  string
	Timeout   time.Duration
}

type Gateway struct {
	cfg    Config
	client *gateway.Client
	log    *zap.Logger
	// orderNum generates wsb_order_num; replaced in tests.
	orderNum func() string
}

func New(cfg Config, log *zap.Logger) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = LiveBaseURL
		if cfg.TestMode {
			cfg.BaseURL = SandboxBaseURL
		}
	}
	if cfg.Currency == "" {
		cfg.Currency = "BYN"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		cfg:      cfg,
		client:   gateway.NewClient(string(models.ProviderWebPay), cfg.BaseURL, cfg.Timeout, log, parseError),
		log:      log.With(zap.String("provider", string(models.ProviderWebPay))),
		orderNum: newOrderNum,
	}
}

func newOrderNum() string {
	suffix, err := utils.RandomString(10)
	if err != nil {
		suffix = strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return fmt.Sprintf("ORDER_%s_%d", suffix, time.Now().Unix())
}

func (g *Gateway) Provider() models.Provider { return models.ProviderWebPay }

// Sign computes wsb_signature: values of non-empty fields other than the
// signature itself, concatenated in key order, HMAC-SHA1 with the secret.
func Sign(fields map[string]string, secret string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		if k == signatureField || fields[k] == "" {
			continue
		}
		b.WriteString(fields[k])
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.PaymentResponse, error) {
	if err := gateway.ValidateCreate(req); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = g.cfg.Currency
	}
	orderNum := g.orderNum()
	test := "0"
	if g.cfg.TestMode {
		test = "1"
	}
	signed := map[string]string{
		"wsb_storeid":     g.cfg.StoreID,
		"wsb_order_num":   orderNum,
		"wsb_currency_id": currency,
		"wsb_total":       utils.FormatMinor(req.Amount),
		"wsb_test":        test,
	}

	form := url.Values{}
	for k, v := range signed {
		form.Set(k, v)
	}
	form.Set(signatureField, Sign(signed, g.cfg.SecretKey))
	form.Set("wsb_return_url", g.cfg.ReturnURL)
	form.Set("wsb_cancel_return_url", g.cfg.CancelURL)
	form.Set("wsb_notify_url", g.cfg.NotifyURL)
	form.Set("wsb_order_tag", req.Description)
	for k, v := range req.Metadata {
		form.Set("wsb_custom_"+k, v)
	}

	var out struct {
		PaymentID  string `json:"payment_id"`
		PaymentURL string `json:"payment_url"`
		Status     string `json:"status"`
	}
	if err := g.client.Do(ctx, "create_payment", gateway.Request{
		Method: http.MethodPost,
		Path:   "/api/payment",
		Form:   form,
	}, &out); err != nil {
		return nil, err
	}

	resp := &gateway.PaymentResponse{
		PaymentID:        out.PaymentID,
		RedirectURL:      out.PaymentURL,
		Status:           gateway.StatusPending,
		ConfirmationType: string(gateway.ConfirmRedirect),
		Metadata:         map[string]any{"order_num": orderNum},
	}
	// Notifications identify the payment by order number.
	if resp.PaymentID == "" {
		resp.PaymentID = orderNum
	}
	if resp.RedirectURL == "" {
		resp.RedirectURL = g.cfg.BaseURL + "/payment"
	}
	return resp, nil
}

func (g *Gateway) CapturePayment(context.Context, string, int64, string) (*gateway.PaymentResponse, error) {
	return nil, gateway.Unsupported(models.ProviderWebPay, "capture")
}

func (g *Gateway) CancelPayment(ctx context.Context, paymentID string) (*gateway.PaymentResponse, error) {
	var out struct {
		ID        string `json:"id"`
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
	}
	if err := g.client.Do(ctx, "cancel_payment", gateway.Request{
		Method: http.MethodPost,
		Path:   "/v1/payments/" + url.PathEscape(paymentID) + "/cancel",
		Header: http.Header{"Idempotency-Key": []string{gateway.NewIdempotencyKey()}},
		Bearer: g.cfg.SecretKey,
		JSON:   map[string]any{},
	}, &out); err != nil {
		return nil, err
	}
	id := out.PaymentID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		id = paymentID
	}
	return &gateway.PaymentResponse{PaymentID: id, Status: gateway.StatusCancelled, Metadata: map[string]any{"native_status": out.Status}}, nil
}

func (g *Gateway) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResponse, error) {
	if err := gateway.ValidateRefund(req); err != nil {
		return nil, err
	}
	var out struct {
		ID        string `json:"id"`
		RefundID  string `json:"refund_id"`
		Status    string `json:"status"`
		Amount    *int64 `json:"amount"`
		CreatedAt string `json:"created_at"`
	}
	if err := g.client.Do(ctx, "create_refund", gateway.Request{
		Method: http.MethodPost,
		Path:   "/v1/refunds",
		Header: http.Header{"Idempotency-Key": []string{gateway.NewIdempotencyKey()}},
		Bearer: g.cfg.SecretKey,
		JSON:   map[string]any{"payment_id": req.PaymentID, "amount": req.Amount},
	}, &out); err != nil {
		return nil, err
	}
	id := out.RefundID
	if id == "" {
		id = out.ID
	}
	amount := req.Amount
	if out.Amount != nil {
		amount = *out.Amount
	}
	created, _ := utils.ParseDateTime(out.CreatedAt)
	return &gateway.RefundResponse{RefundID: id, Status: out.Status, Amount: amount, PaymentID: req.PaymentID, CreatedAt: created}, nil
}

func (g *Gateway) GetPaymentInfo(ctx context.Context, paymentID string) (map[string]any, error) {
	var out map[string]any
	err := g.client.Do(ctx, "get_payment", gateway.Request{
		Method: http.MethodGet,
		Path:   "/v1/payments/" + url.PathEscape(paymentID),
		Bearer: g.cfg.SecretKey,
	}, &out)
	if gateway.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HandleCallback verifies the notifier's wsb_signature over every other
// posted field.
func (g *Gateway) HandleCallback(_ context.Context, req gateway.CallbackRequest) (*gateway.CallbackResult, error) {
	fields, err := callbackFields(req)
	if err != nil {
		return nil, domain.ValidationError{Field: "body", Msg: "malformed notification", Err: err}
	}
	received := fields[signatureField]
	expected := Sign(fields, g.cfg.SecretKey)
	if received == "" || !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		g.log.Warn("callback signature mismatch",
			zap.String("order_num", fields["wsb_order_num"]),
			zap.Bool("security", true),
		)
		return nil, domain.IntegrityError{Provider: string(models.ProviderWebPay)}
	}

	txType := fields["wsb_transaction_type"]
	var status gateway.Status
	switch txType {
	case "1":
		status = gateway.StatusSuccess
	case "2":
		status = gateway.StatusRefunded
	case "3":
		status = gateway.StatusCancelled
	default:
		status = gateway.StatusPending
		if fields["rrn"] != "" || fields["response_code"] != "" {
			status = gateway.StatusFailed
		}
	}
	txID := fields["wsb_order_num"]
	if txID == "" {
		txID = fields["wsb_tid"]
	}
	currency := fields["wsb_currency_id"]
	if currency == "" {
		currency = g.cfg.Currency
	}
	return &gateway.CallbackResult{
		Status:        status,
		TransactionID: txID,
		ReferenceID:   fields["wsb_tid"],
		EventType:     "transaction_type_" + txType,
		Metadata: map[string]any{
			"transaction_type": txType,
			"amount":           fields["wsb_total"],
			"currency":         currency,
		},
	}, nil
}

// callbackFields accepts the notifier's form post, a JSON object, or query
// parameters on a return redirect.
func callbackFields(req gateway.CallbackRequest) (map[string]string, error) {
	out := map[string]string{}
	body := strings.TrimSpace(string(req.Body))
	switch {
	case strings.HasPrefix(body, "{"):
		var raw map[string]any
		if err := json.Unmarshal(req.Body, &raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			if v == nil {
				continue
			}
			out[k] = fmt.Sprint(v)
		}
	case body != "":
		vals, err := url.ParseQuery(body)
		if err != nil {
			return nil, err
		}
		for k := range vals {
			out[k] = vals.Get(k)
		}
	default:
		for k := range req.Query {
			out[k] = req.Query.Get(k)
		}
	}
	return out, nil
}

func parseError(_ int, _ http.Header, body []byte) gateway.ErrorDetail {
	var e struct {
		Message   string `json:"message"`
		Error     string `json:"error"`
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(body, &e)
	msg := e.Message
	if msg == "" {
		msg = e.Error
	}
	return gateway.ErrorDetail{Code: e.Code, Message: msg, CorrelationID: e.RequestID}
}
