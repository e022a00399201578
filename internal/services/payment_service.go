package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"tripbooking/internal/cache"
	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/gateway"
	"tripbooking/internal/repositories"
	"tripbooking/internal/utils"
)

// BookingTransitions is the part of the booking state machine the payment
// service drives.
type BookingTransitions interface {
	SetPaymentStatus(ctx context.Context, id int64, status models.PaymentStatus) (bool, error)
	CompleteRefund(ctx context.Context, id int64, amount int64) (models.Booking, error)
}

// PaymentService is the payment orchestrator: it picks the driver, persists
// payment attempts and turns provider callbacks into booking changes.
type PaymentService struct {
	Gateways    Gateways
	Payments    PaymentStore
	Bookings    BookingStore
	Trips       TripStore
	Transitions BookingTransitions
	URLs        cache.URLCache
	Log         *zap.Logger
}

// CheckoutResult is a created payment plus where to send the customer.
type CheckoutResult struct {
	Payment     models.Payment `json:"payment"`
	RedirectURL string         `json:"redirect_url,omitempty"`
}

func (s *PaymentService) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return utils.Logger()
}

func chargeStatus(st gateway.Status) models.ChargeStatus {
	switch st {
	case gateway.StatusSuccess:
		return models.ChargeSuccess
	case gateway.StatusFailed:
		return models.ChargeFailed
	case gateway.StatusCancelled:
		return models.ChargeCancelled
	case gateway.StatusWaitingForCapture:
		return models.ChargeWaitingForCapture
	default:
		return models.ChargePending
	}
}

func (s *PaymentService) logGatewayError(op string, bookingID int64, err error) {
	fields := []zap.Field{zap.String("operation", op), zap.Int64("booking_id", bookingID), zap.Error(err)}
	if gwErr, ok := domain.AsGateway(err); ok {
		fields = append(fields,
			zap.String("provider", gwErr.Provider),
			zap.Int("http_status", gwErr.HTTPStatus),
			zap.String("provider_code", gwErr.ProviderCode),
			zap.String("correlation_id", gwErr.CorrelationID),
			zap.Bool("retryable", gwErr.Retryable()),
		)
	}
	s.log().Error("gateway call failed", fields...)
}

// CreatePayment starts a payment for the booking's full price through
// provider, or through the booking's own provider when provider is empty.
func (s *PaymentService) CreatePayment(ctx context.Context, bookingID int64, provider models.Provider) (CheckoutResult, error) {
	b, err := s.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if provider == "" {
		provider = b.PaymentProvider
	}
	if provider != b.PaymentProvider {
		return CheckoutResult{}, domain.ValidationError{Field: "provider", Msg: "provider differs from the one chosen for the booking"}
	}
	if b.Status.IsTerminal() || b.Status == models.BookingRefundRequested {
		return CheckoutResult{}, domain.InvalidTransitionError{Action: "pay for", From: string(b.Status)}
	}
	if b.PaymentStatus == models.PaymentPaid {
		return CheckoutResult{}, domain.ConflictError{Resource: "booking", Msg: "already paid"}
	}

	trip, err := s.Trips.GetByID(ctx, b.TripID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if !trip.AllowsProvider(provider) {
		return CheckoutResult{}, domain.ValidationError{Field: "provider", Msg: "payment provider not available for this trip"}
	}
	driver, err := s.Gateways.Get(provider)
	if err != nil {
		return CheckoutResult{}, err
	}

	req := gateway.CreatePaymentRequest{
		Amount:       trip.PriceFor(b.Seats),
		Currency:     trip.Currency,
		Description:  fmt.Sprintf("Payment for booking #%d", b.ID),
		Metadata:     map[string]string{"booking_id": strconv.FormatInt(b.ID, 10), "trip_id": strconv.FormatInt(trip.ID, 10)},
		Confirmation: gateway.ConfirmRedirect,
		AutoCapture:  true,
	}
	if err := gateway.ValidateCreate(req); err != nil {
		return CheckoutResult{}, err
	}
	resp, err := driver.CreatePayment(ctx, req)
	if err != nil {
		s.logGatewayError("create_payment", b.ID, err)
		return CheckoutResult{}, err
	}

	p := models.Payment{
		BookingID:        b.ID,
		Provider:         provider,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Status:           models.ChargePending,
		TransactionID:    resp.PaymentID,
		ConfirmationType: resp.ConfirmationType,
		Metadata:         resp.Metadata,
	}
	if err := s.Payments.Create(ctx, &p); err != nil {
		return CheckoutResult{}, err
	}

	if resp.RedirectURL != "" && s.URLs != nil {
		if err := s.URLs.SetPaymentURL(ctx, p.ID, resp.RedirectURL); err != nil {
			s.log().Warn("cache payment url", zap.Int64("payment_id", p.ID), zap.Error(err))
		}
	}
	s.log().Info("payment created",
		zap.Int64("booking_id", b.ID),
		zap.Int64("payment_id", p.ID),
		zap.String("provider", string(provider)),
		zap.Int64("amount", p.Amount),
	)
	return CheckoutResult{Payment: p, RedirectURL: resp.RedirectURL}, nil
}

// GetPaymentURL returns the cached checkout URL; it expires after a day.
func (s *PaymentService) GetPaymentURL(ctx context.Context, paymentID int64) (string, error) {
	if s.URLs == nil {
		return "", domain.NotFoundError{Resource: "payment url"}
	}
	u, err := s.URLs.GetPaymentURL(ctx, paymentID)
	if errors.Is(err, cache.ErrMiss) {
		return "", domain.NotFoundError{Resource: "payment url", Err: err}
	}
	return u, err
}

func (s *PaymentService) GetPayment(ctx context.Context, id int64) (models.Payment, error) {
	return s.Payments.GetByID(ctx, id)
}

func (s *PaymentService) ListForBooking(ctx context.Context, bookingID int64) ([]models.Payment, error) {
	return s.Payments.ListByBooking(ctx, bookingID)
}

func (s *PaymentService) findForCallback(ctx context.Context, provider models.Provider, res *gateway.CallbackResult) (models.Payment, error) {
	var lastErr error = domain.NotFoundError{Resource: "payment"}
	for _, id := range []string{res.TransactionID, res.ReferenceID} {
		if id == "" {
			continue
		}
		p, err := s.Payments.FindByTransactionID(ctx, provider, id)
		if err == nil {
			return p, nil
		}
		if !domain.IsNotFound(err) {
			return models.Payment{}, err
		}
		lastErr = err
	}
	return models.Payment{}, lastErr
}

// HandleCallback verifies a provider callback and reconciles the payment it
// names. Redelivered callbacks are no-ops. It returns nil when the callback
// identifies no payment.
func (s *PaymentService) HandleCallback(ctx context.Context, provider models.Provider, req gateway.CallbackRequest) (*models.Payment, error) {
	driver, err := s.Gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	res, err := driver.HandleCallback(ctx, req)
	if err != nil {
		if domain.IsIntegrity(err) {
			s.log().Warn("callback rejected",
				zap.String("provider", string(provider)),
				zap.String("remote_ip", req.RemoteIP),
				zap.Bool("security", true),
				zap.Error(err),
			)
		}
		return nil, err
	}
	if res == nil || res.Ignorable() {
		s.log().Info("callback ignored", zap.String("provider", string(provider)))
		return nil, nil
	}

	p, err := s.findForCallback(ctx, provider, res)
	if err != nil {
		return nil, err
	}
	if res.Status == gateway.StatusRefunded {
		s.log().Info("provider reported refund",
			zap.Int64("payment_id", p.ID),
			zap.String("event", res.EventType),
		)
		return &p, nil
	}

	updated, err := s.applyStatus(ctx, p.ID, chargeStatus(res.Status), res.TransactionID)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// applyStatus writes a new charge status under the row version and runs the
// booking side effects only for the write that actually changed the status.
func (s *PaymentService) applyStatus(ctx context.Context, paymentID int64, next models.ChargeStatus, txID string) (models.Payment, error) {
	for attempt := 1; ; attempt++ {
		p, err := s.Payments.GetByID(ctx, paymentID)
		if err != nil {
			return models.Payment{}, err
		}
		old := p.Status
		if old == next && (txID == "" || txID == p.TransactionID) {
			return p, nil
		}
		if old != next && !old.CanMoveTo(next) {
			s.log().Info("stale payment status ignored",
				zap.Int64("payment_id", p.ID),
				zap.String("status", string(old)),
				zap.String("reported", string(next)),
			)
			return p, nil
		}
		p.Status = next
		if txID != "" {
			p.TransactionID = txID
		}

		err = s.Payments.Update(ctx, &p)
		if errors.Is(err, repositories.ErrStaleVersion) && attempt < staleRetries {
			continue
		}
		if errors.Is(err, repositories.ErrStaleVersion) {
			return p, domain.ConflictError{Resource: "payment", Msg: "payment was modified concurrently", Err: err}
		}
		if err != nil {
			return p, err
		}
		if old != next {
			s.log().Info("payment status changed",
				zap.Int64("payment_id", p.ID),
				zap.Int64("booking_id", p.BookingID),
				zap.String("from", string(old)),
				zap.String("to", string(next)),
			)
			if err := s.bookingSideEffects(ctx, p, next); err != nil {
				return p, err
			}
		}
		return p, nil
	}
}

func (s *PaymentService) bookingSideEffects(ctx context.Context, p models.Payment, next models.ChargeStatus) error {
	if s.Transitions == nil {
		return nil
	}
	var status models.PaymentStatus
	switch next {
	case models.ChargeSuccess:
		status = models.PaymentPaid
	case models.ChargeFailed:
		status = models.PaymentFailed
	case models.ChargeCancelled:
		status = models.PaymentCancelled
	default:
		return nil
	}
	_, err := s.Transitions.SetPaymentStatus(ctx, p.BookingID, status)
	return err
}

// CreateRefundForBooking refunds a booking paid online through its gateway.
// It returns (nil, nil) when there is nothing to refund: the booking is not
// paid online, no settled payment exists or the remainder is zero. Gateway
// failures are logged and returned so the caller can retry later.
func (s *PaymentService) CreateRefundForBooking(ctx context.Context, b models.Booking, amount *int64) (*gateway.RefundResponse, error) {
	if !b.IsPaidOnline() {
		s.log().Info("refund not applicable",
			zap.Int64("booking_id", b.ID),
			zap.String("payment_status", string(b.PaymentStatus)),
			zap.String("provider", string(b.PaymentProvider)),
		)
		return nil, nil
	}

	p, err := s.Payments.FindSuccessfulForBooking(ctx, b.ID, b.PaymentProvider)
	if domain.IsNotFound(err) {
		s.log().Warn("no settled payment to refund", zap.Int64("booking_id", b.ID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.TransactionID == "" {
		return nil, nil
	}

	refundable := p.RefundableAmount()
	refund := refundable
	if amount != nil {
		if *amount <= 0 {
			return nil, domain.ValidationError{Field: "amount", Msg: "must be greater than zero"}
		}
		if *amount > refundable {
			return nil, domain.ValidationError{Field: "amount", Msg: fmt.Sprintf("exceeds refundable amount %d", refundable)}
		}
		refund = *amount
	}
	if refund <= 0 {
		return nil, nil
	}

	driver, err := s.Gateways.Get(p.Provider)
	if err != nil {
		return nil, err
	}
	rreq := gateway.RefundRequest{PaymentID: p.TransactionID, Amount: refund, Currency: p.Currency}
	if err := gateway.ValidateRefund(rreq); err != nil {
		return nil, err
	}
	resp, err := driver.CreateRefund(ctx, rreq)
	if err != nil {
		s.logGatewayError("create_refund", b.ID, err)
		return nil, err
	}

	if err := s.recordRefund(ctx, p.ID, resp.RefundID, refund); err != nil {
		// The provider already moved the money; leave a trail for reconciliation.
		s.log().Error("refund executed but not recorded",
			zap.Int64("booking_id", b.ID),
			zap.Int64("payment_id", p.ID),
			zap.String("refund_id", resp.RefundID),
			zap.Int64("amount", refund),
			zap.Error(err),
		)
		return nil, err
	}
	if s.Transitions != nil {
		if _, err := s.Transitions.CompleteRefund(ctx, b.ID, refund); err != nil {
			return nil, err
		}
	}

	s.log().Info("refund created",
		zap.Int64("booking_id", b.ID),
		zap.Int64("payment_id", p.ID),
		zap.String("refund_id", resp.RefundID),
		zap.Int64("amount", refund),
	)
	if resp.Amount == 0 {
		resp.Amount = refund
	}
	return resp, nil
}

func (s *PaymentService) recordRefund(ctx context.Context, paymentID int64, refundID string, amount int64) error {
	for attempt := 1; ; attempt++ {
		p, err := s.Payments.GetByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if amount > p.RefundableAmount() {
			return domain.ValidationError{Field: "amount", Msg: "exceeds refundable amount"}
		}
		p.RefundedAmount += amount
		if refundID != "" {
			p.RefundID = refundID
		}
		err = s.Payments.Update(ctx, &p)
		if errors.Is(err, repositories.ErrStaleVersion) && attempt < staleRetries {
			continue
		}
		return err
	}
}

func (s *PaymentService) driverFor(ctx context.Context, paymentID int64) (gateway.Gateway, models.Payment, error) {
	p, err := s.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, models.Payment{}, err
	}
	driver, err := s.Gateways.Get(p.Provider)
	if err != nil {
		return nil, p, err
	}
	return driver, p, nil
}

// CapturePayment captures a payment waiting for capture. amount 0 captures
// the full authorized sum.
func (s *PaymentService) CapturePayment(ctx context.Context, paymentID int64, amount int64) (models.Payment, error) {
	driver, p, err := s.driverFor(ctx, paymentID)
	if err != nil {
		return models.Payment{}, err
	}
	if amount < 0 || amount > p.Amount {
		return models.Payment{}, domain.ValidationError{Field: "amount", Msg: "must be between 0 and the payment amount"}
	}
	resp, err := driver.CapturePayment(ctx, p.TransactionID, amount, p.Currency)
	if err != nil {
		s.logGatewayError("capture_payment", p.BookingID, err)
		return models.Payment{}, err
	}
	return s.applyStatus(ctx, p.ID, chargeStatus(resp.Status), resp.PaymentID)
}

func (s *PaymentService) CancelPayment(ctx context.Context, paymentID int64) (models.Payment, error) {
	driver, p, err := s.driverFor(ctx, paymentID)
	if err != nil {
		return models.Payment{}, err
	}
	if p.Status == models.ChargeSuccess {
		return models.Payment{}, domain.ConflictError{Resource: "payment", Msg: "settled payments are refunded, not cancelled"}
	}
	resp, err := driver.CancelPayment(ctx, p.TransactionID)
	if err != nil {
		s.logGatewayError("cancel_payment", p.BookingID, err)
		return models.Payment{}, err
	}
	next := chargeStatus(resp.Status)
	if resp.Status == "" {
		next = models.ChargeCancelled
	}
	return s.applyStatus(ctx, p.ID, next, "")
}

// GetPaymentInfo returns the provider's own record of the payment.
func (s *PaymentService) GetPaymentInfo(ctx context.Context, paymentID int64) (map[string]any, error) {
	driver, p, err := s.driverFor(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	info, err := driver.GetPaymentInfo(ctx, p.TransactionID)
	if err != nil {
		s.logGatewayError("get_payment_info", p.BookingID, err)
		return nil, err
	}
	if info == nil {
		return nil, domain.NotFoundError{Resource: "provider payment"}
	}
	return info, nil
}
