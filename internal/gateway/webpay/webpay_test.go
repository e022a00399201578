package webpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripbooking/internal/domain"
	"tripbooking/internal/gateway"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := New(Config{
		StoreID:   "store-1",
		SecretKey: "s3cret",
		TestMode:  true,
		BaseURL:   srv.URL,
		NotifyURL: "https://example.test/api/v1/payments/webpay/callback",
		Timeout:   time.Second,
	}, nil)
	g.orderNum = func() string { return "ORDER_abc_1" }
	return g
}

func TestSignSkipsEmptyAndSignature(t *testing.T) {
	a := Sign(map[string]string{"b": "2", "a": "1", "c": ""}, "k")
	b := Sign(map[string]string{"a": "1", "b": "2", signatureField: "zzz"}, "k")
	assert.Equal(t, a, b)
	assert.Len(t, a, 40)
	assert.NotEqual(t, a, Sign(map[string]string{"a": "2", "b": "1"}, "k"))
}

func TestCreatePaymentSignsForm(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payment", r.URL.Path)
		require.NoError(t, r.ParseForm())
		f := r.PostForm
		assert.Equal(t, "store-1", f.Get("wsb_storeid"))
		assert.Equal(t, "ORDER_abc_1", f.Get("wsb_order_num"))
		assert.Equal(t, "BYN", f.Get("wsb_currency_id"))
		assert.Equal(t, "12.50", f.Get("wsb_total"))
		assert.Equal(t, "1", f.Get("wsb_test"))
		assert.Equal(t, "3", f.Get("wsb_custom_booking_id"))
		want := Sign(map[string]string{
			"wsb_storeid": "store-1", "wsb_order_num": "ORDER_abc_1", "wsb_currency_id": "BYN",
			"wsb_total": "12.50", "wsb_test": "1",
		}, "s3cret")
		assert.Equal(t, want, f.Get("wsb_signature"))
		_, _ = w.Write([]byte(`{"payment_url":"https://sandbox.webpay.test/pay/1"}`))
	})

	resp, err := g.CreatePayment(context.Background(), gateway.CreatePaymentRequest{
		Amount: 1250, Description: "payment for booking #3", Metadata: map[string]string{"booking_id": "3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ORDER_abc_1", resp.PaymentID)
	assert.Equal(t, "https://sandbox.webpay.test/pay/1", resp.RedirectURL)
}

func TestCaptureUnsupported(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := g.CapturePayment(context.Background(), "x", 0, "")
	assert.True(t, domain.IsUnsupported(err))
}

func TestCreateRefundSendsKopecks(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(1000), body["amount"])
		_, _ = w.Write([]byte(`{"refund_id":"wr-1","status":"completed"}`))
	})
	resp, err := g.CreateRefund(context.Background(), gateway.RefundRequest{PaymentID: "ORDER_abc_1", Amount: 1000})
	require.NoError(t, err)
	assert.Equal(t, "wr-1", resp.RefundID)
	assert.Equal(t, int64(1000), resp.Amount)
}

func signedNotification(fields map[string]string, secret string) []byte {
	vals := url.Values{}
	for k, v := range fields {
		vals.Set(k, v)
	}
	vals.Set(signatureField, Sign(fields, secret))
	return []byte(vals.Encode())
}

func TestHandleCallback(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	fields := map[string]string{
		"wsb_order_num":        "ORDER_abc_1",
		"wsb_tid":              "778899",
		"wsb_transaction_type": "1",
		"wsb_total":            "12.50",
		"wsb_currency_id":      "BYN",
	}
	res, err := g.HandleCallback(context.Background(), gateway.CallbackRequest{Body: signedNotification(fields, "s3cret")})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSuccess, res.Status)
	assert.Equal(t, "ORDER_abc_1", res.TransactionID)
	assert.Equal(t, "12.50", res.Metadata["amount"])

	fields["wsb_transaction_type"] = ""
	fields["rrn"] = "123"
	res, err = g.HandleCallback(context.Background(), gateway.CallbackRequest{Body: signedNotification(fields, "s3cret")})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusFailed, res.Status)
}

func TestHandleCallbackRejectsForgedSignature(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	fields := map[string]string{"wsb_order_num": "ORDER_abc_1", "wsb_transaction_type": "1"}
	_, err := g.HandleCallback(context.Background(), gateway.CallbackRequest{Body: signedNotification(fields, "wrong")})
	assert.True(t, domain.IsIntegrity(err))

	_, err = g.HandleCallback(context.Background(), gateway.CallbackRequest{Body: []byte("wsb_order_num=ORDER_abc_1&wsb_transaction_type=1")})
	assert.True(t, domain.IsIntegrity(err))
}
