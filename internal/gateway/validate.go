package gateway

import (
	"strings"

	"github.com/google/uuid"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
)

// NewIdempotencyKey returns a fresh key for one outbound call.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// ValidateCreate rejects requests no provider would accept, before any call.
func ValidateCreate(req CreatePaymentRequest) error {
	if req.Amount <= 0 {
		return domain.ValidationError{Field: "amount", Msg: "must be greater than zero"}
	}
	if strings.TrimSpace(req.Description) == "" {
		return domain.ValidationError{Field: "description", Msg: "required"}
	}
	return nil
}

func ValidateRefund(req RefundRequest) error {
	if strings.TrimSpace(req.PaymentID) == "" {
		return domain.ValidationError{Field: "payment_id", Msg: "required"}
	}
	if req.Amount <= 0 {
		return domain.ValidationError{Field: "amount", Msg: "must be greater than zero"}
	}
	return nil
}

// Unsupported builds the error for an operation a provider lacks.
func Unsupported(p models.Provider, op string) error {
	return domain.UnsupportedOperationError{Provider: string(p), Operation: op}
}
