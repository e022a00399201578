package models

import "time"

// ChargeStatus is the lifecycle of a single payment attempt.
type ChargeStatus string

const (
	ChargePending           ChargeStatus = "pending"
	ChargeWaitingForCapture ChargeStatus = "waiting_for_capture"
	ChargeSuccess           ChargeStatus = "success"
	ChargeFailed            ChargeStatus = "failed"
	ChargeCancelled         ChargeStatus = "cancelled"
)

// chargeTransitions lists where a charge may go next. Callbacks arrive out of
// order, so anything not listed is a stale event. Success is final; refunds
// are tracked in RefundedAmount.
var chargeTransitions = map[ChargeStatus][]ChargeStatus{
	ChargePending:           {ChargeWaitingForCapture, ChargeSuccess, ChargeFailed, ChargeCancelled},
	ChargeWaitingForCapture: {ChargeSuccess, ChargeFailed, ChargeCancelled},
	ChargeFailed:            {ChargePending, ChargeWaitingForCapture, ChargeSuccess, ChargeCancelled},
	ChargeCancelled:         {ChargeSuccess},
}

// CanMoveTo reports whether a charge in status s may be moved to next.
func (s ChargeStatus) CanMoveTo(next ChargeStatus) bool {
	for _, allowed := range chargeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Payment is one attempt to charge a booking through one provider. Amounts
// are in minor units of Currency.
type Payment struct {
	ID               int64          `json:"id"`
	BookingID        int64          `json:"booking_id"`
	Provider         Provider       `json:"provider"`
	Amount           int64          `json:"amount"`
	Currency         string         `json:"currency"`
	Status           ChargeStatus   `json:"status"`
	TransactionID    string         `json:"transaction_id"`
	ConfirmationType string         `json:"confirmation_type,omitempty"`
	RefundID         string         `json:"refund_id,omitempty"`
	RefundedAmount   int64          `json:"refunded_amount"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Version          int64          `json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (p Payment) RefundableAmount() int64 {
	left := p.Amount - p.RefundedAmount
	if left < 0 {
		return 0
	}
	return left
}

func (p Payment) IsFullyRefunded() bool {
	return p.RefundedAmount >= p.Amount
}

func (p Payment) IsPartiallyRefunded() bool {
	return p.RefundedAmount > 0 && p.RefundedAmount < p.Amount
}
