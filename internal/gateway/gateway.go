// Package gateway defines the contract every payment processor driver
// satisfies and the registry the payment service resolves drivers from.
package gateway

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"tripbooking/internal/domain/models"
)

// Status is the normalized vocabulary every driver maps its provider's
// native statuses and webhook events into. Unknown states map to Pending.
type Status string

const (
	StatusPending           Status = "pending"
	StatusSuccess           Status = "success"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusWaitingForCapture Status = "waiting_for_capture"
	StatusRefunded          Status = "refunded"
)

// ConfirmationKind selects how the customer confirms a payment.
type ConfirmationKind string

const (
	ConfirmRedirect ConfirmationKind = "redirect"
	ConfirmEmbedded ConfirmationKind = "embedded"
	ConfirmQR       ConfirmationKind = "qr"
)

// CreatePaymentRequest describes one charge. Amount is in minor units.
type CreatePaymentRequest struct {
	Amount       int64
	Currency     string
	Description  string
	Metadata     map[string]string
	Confirmation ConfirmationKind
	AutoCapture  bool
	Receipt      map[string]any
}

type PaymentResponse struct {
	PaymentID        string         `json:"payment_id"`
	RedirectURL      string         `json:"redirect_url,omitempty"`
	Status           Status         `json:"status"`
	ConfirmationType string         `json:"confirmation_type,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type RefundRequest struct {
	PaymentID string
	Amount    int64
	Currency  string
	Receipt   map[string]any
}

type RefundResponse struct {
	RefundID  string    `json:"refund_id"`
	Status    string    `json:"status"`
	Amount    int64     `json:"amount"`
	PaymentID string    `json:"payment_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CallbackRequest is the raw webhook or return redirect as received.
type CallbackRequest struct {
	Body     []byte
	Header   http.Header
	Query    url.Values
	RemoteIP string
}

// CallbackResult is a verified, normalized callback. ReferenceID is a second
// provider id (checkout session, order) used when TransactionID does not match
// a stored payment. Both empty means the event carries nothing to reconcile.
type CallbackResult struct {
	Status        Status         `json:"status"`
	TransactionID string         `json:"transaction_id"`
	ReferenceID   string         `json:"reference_id,omitempty"`
	EventType     string         `json:"event_type,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Ignorable reports whether the callback identifies no payment.
func (r CallbackResult) Ignorable() bool {
	return r.TransactionID == "" && r.ReferenceID == ""
}

// Gateway is implemented by each provider driver. Drivers perform exactly one
// outbound attempt per call and never retry; callers own the retry policy.
type Gateway interface {
	Provider() models.Provider
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentResponse, error)
	// CapturePayment captures a delayed-capture payment. amount 0 captures
	// the full authorized sum.
	CapturePayment(ctx context.Context, paymentID string, amount int64, currency string) (*PaymentResponse, error)
	CancelPayment(ctx context.Context, paymentID string) (*PaymentResponse, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResponse, error)
	// GetPaymentInfo returns the provider's native record, or nil when the
	// provider does not know the id.
	GetPaymentInfo(ctx context.Context, paymentID string) (map[string]any, error)
	HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error)
}
