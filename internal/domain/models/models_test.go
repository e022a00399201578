package models

import (
	"testing"
	"time"
)

func TestBookingStatusTerminalStatesHaveNoEdges(t *testing.T) {
	all := []BookingStatus{BookingPending, BookingConfirmed, BookingCancelled, BookingRefundRequested, BookingRefunded}
	for _, from := range []BookingStatus{BookingCancelled, BookingRefunded} {
		if !from.IsTerminal() {
			t.Fatalf("%s should be terminal", from)
		}
		for _, to := range all {
			if from.CanTransition(to) {
				t.Fatalf("unexpected edge %s -> %s", from, to)
			}
		}
	}
	if !BookingPending.CanTransition(BookingConfirmed) {
		t.Fatalf("pending -> confirmed must be allowed")
	}
	if BookingConfirmed.CanTransition(BookingPending) {
		t.Fatalf("confirmed -> pending must be rejected")
	}
	if !BookingRefundRequested.CanTransition(BookingRefunded) {
		t.Fatalf("refund_requested -> refunded must be allowed")
	}
}

func TestChargeStatusSuccessIsFinal(t *testing.T) {
	for _, next := range []ChargeStatus{ChargePending, ChargeWaitingForCapture, ChargeFailed, ChargeCancelled} {
		if ChargeSuccess.CanMoveTo(next) {
			t.Fatalf("success -> %s must be rejected", next)
		}
	}
	if !ChargeWaitingForCapture.CanMoveTo(ChargeSuccess) {
		t.Fatalf("waiting_for_capture -> success must be allowed")
	}
	if !ChargeFailed.CanMoveTo(ChargeSuccess) {
		t.Fatalf("a later successful attempt must settle a failed charge")
	}
	if ChargeWaitingForCapture.CanMoveTo(ChargePending) {
		t.Fatalf("waiting_for_capture -> pending must be rejected")
	}
}

func TestBookingCanRequestRefund(t *testing.T) {
	b := Booking{Status: BookingConfirmed, PaymentStatus: PaymentPaid, PaymentProvider: ProviderYooKassa}
	if !b.CanRequestRefund() {
		t.Fatalf("paid online booking should allow refund request")
	}
	b.PaymentProvider = ProviderPayOnArrival
	if b.CanRequestRefund() {
		t.Fatalf("cash booking must not allow refund request")
	}
	b.PaymentProvider = ProviderStripe
	b.Status = BookingRefundRequested
	if b.CanRequestRefund() {
		t.Fatalf("refund already requested")
	}
}

func TestTripAllowsProvider(t *testing.T) {
	trip := Trip{}
	if !trip.AllowsProvider(ProviderPayOnArrival) || trip.AllowsProvider(ProviderStripe) {
		t.Fatalf("trip without providers must accept cash only")
	}
	trip.PaymentProviders = []Provider{ProviderStripe}
	if !trip.AllowsProvider(ProviderStripe) || trip.AllowsProvider(ProviderPayOnArrival) {
		t.Fatalf("allow-list not honored")
	}
}

func TestTripHasAvailableSeats(t *testing.T) {
	trip := Trip{SeatsTotal: 10, SeatsTaken: 9}
	if trip.HasAvailableSeats(2) {
		t.Fatalf("2 seats should not fit")
	}
	if !trip.HasAvailableSeats(1) {
		t.Fatalf("1 seat should fit")
	}
	if trip.AvailableSeats() != 1 {
		t.Fatalf("available = %d", trip.AvailableSeats())
	}
}

func TestPaymentRefundable(t *testing.T) {
	p := Payment{Amount: 1000, RefundedAmount: 400}
	if p.RefundableAmount() != 600 || !p.IsPartiallyRefunded() || p.IsFullyRefunded() {
		t.Fatalf("unexpected refund state: %+v", p)
	}
	p.RefundedAmount = 1000
	if p.RefundableAmount() != 0 || !p.IsFullyRefunded() {
		t.Fatalf("expected fully refunded")
	}
}

func TestLoginTokenValidity(t *testing.T) {
	now := time.Now()
	tok := LoginToken{ExpiresAt: now.Add(time.Hour)}
	if !tok.IsValid(now) {
		t.Fatalf("fresh token should be valid")
	}
	if tok.IsValid(now.Add(2 * time.Hour)) {
		t.Fatalf("expired token should be invalid")
	}
	used := now
	tok.UsedAt = &used
	if tok.IsValid(now) {
		t.Fatalf("used token should be invalid")
	}
}

func TestParseProvider(t *testing.T) {
	p, ok := ParseProvider(" YooKassa ")
	if !ok || p != ProviderYooKassa {
		t.Fatalf("got %q %v", p, ok)
	}
	if _, ok := ParseProvider("bitcoin"); ok {
		t.Fatalf("unknown provider accepted")
	}
	if ProviderPayOnArrival.RequiresOnlinePayment() {
		t.Fatalf("cash requires no online payment")
	}
}
