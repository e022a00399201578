package models

import "time"

type BookingStatus string

const (
	BookingPending         BookingStatus = "pending"
	BookingConfirmed       BookingStatus = "confirmed"
	BookingCancelled       BookingStatus = "cancelled"
	BookingRefundRequested BookingStatus = "refund_requested"
	BookingRefunded        BookingStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:         {BookingConfirmed, BookingCancelled, BookingRefundRequested},
	BookingConfirmed:       {BookingCancelled, BookingRefundRequested},
	BookingRefundRequested: {BookingRefunded},
}

// Booking reserves Seats on one trip for a named customer. Version guards
// concurrent writers; every successful update bumps it. SeatsReleased is set
// once the reserved seats went back to the trip, so no path releases twice.
type Booking struct {
	ID                 int64         `json:"id"`
	TripID             int64         `json:"trip_id"`
	UserName           string        `json:"user_name"`
	UserPhone          string        `json:"user_phone"`
	UserEmail          string        `json:"user_email"`
	Seats              int           `json:"seats"`
	Status             BookingStatus `json:"status"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	PaymentProvider    Provider      `json:"payment_provider"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	RefundRequestedAt  *time.Time    `json:"refund_requested_at,omitempty"`
	RefundedAt         *time.Time    `json:"refunded_at,omitempty"`
	RefundAmount       int64         `json:"refund_amount"`
	SeatsReleased      bool          `json:"seats_released"`
	Version            int64         `json:"-"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingCancelled || s == BookingRefunded
}

// CanTransition reports whether the state machine has an edge from s to next.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (b Booking) IsPaidOnline() bool {
	return b.PaymentStatus == PaymentPaid && b.PaymentProvider.RequiresOnlinePayment()
}

func (b Booking) CanBeCancelled() bool {
	return !b.Status.IsTerminal()
}

func (b Booking) CanRequestRefund() bool {
	if !b.IsPaidOnline() {
		return false
	}
	switch b.Status {
	case BookingRefundRequested, BookingRefunded, BookingCancelled:
		return false
	}
	return true
}
