package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/notify"
	"tripbooking/internal/queue"
	"tripbooking/internal/repositories"
	"tripbooking/internal/utils"
)

const maxCancellationReason = 500

// BookingService is the booking state machine. It owns every booking status
// change and keeps the trip seat ledger in step with it.
type BookingService struct {
	Trips    TripStore
	Bookings BookingStore
	Refunds  RefundEnqueuer
	Notifier notify.Notifier
	Log      *zap.Logger
	Now      func() time.Time
}

type CreateBookingInput struct {
	TripID    int64  `json:"trip_id"`
	UserName  string `json:"user_name"`
	UserPhone string `json:"user_phone"`
	UserEmail string `json:"user_email"`
	Seats     int    `json:"seats"`
	Provider  string `json:"payment_provider"`
}

func (s *BookingService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return utils.NowUTC()
}

func (s *BookingService) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return utils.Logger()
}

func (s *BookingService) notify(ctx context.Context, bookingID int64, kind notify.Kind) {
	if s.Notifier == nil || kind == "" {
		return
	}
	if err := s.Notifier.Notify(ctx, bookingID, kind); err != nil {
		s.log().Warn("booking notification failed",
			zap.Int64("booking_id", bookingID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

func validateCreate(in CreateBookingInput) (CreateBookingInput, models.Provider, error) {
	in.UserName = utils.NormalizeSpace(in.UserName)
	in.UserPhone = strings.TrimSpace(in.UserPhone)
	in.UserEmail = utils.NormalizeEmail(in.UserEmail)

	if in.TripID <= 0 {
		return in, "", domain.ValidationError{Field: "trip_id", Msg: "required"}
	}
	if in.UserName == "" {
		return in, "", domain.ValidationError{Field: "user_name", Msg: "required"}
	}
	if in.UserPhone == "" {
		return in, "", domain.ValidationError{Field: "user_phone", Msg: "required"}
	}
	if _, err := mail.ParseAddress(in.UserEmail); err != nil || in.UserEmail == "" {
		return in, "", domain.ValidationError{Field: "user_email", Msg: "invalid email", Err: err}
	}
	if in.Seats < 1 {
		return in, "", domain.ValidationError{Field: "seats", Msg: "must be at least 1"}
	}

	provider := models.ProviderPayOnArrival
	if strings.TrimSpace(in.Provider) != "" {
		p, ok := models.ParseProvider(in.Provider)
		if !ok {
			return in, "", domain.ValidationError{Field: "payment_provider", Msg: "unknown payment provider"}
		}
		provider = p
	}
	return in, provider, nil
}

// Create reserves seats and stores a pending booking. The reservation is a
// single conditional update on the trip; when the booking insert fails the
// seats are given back.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (models.Booking, error) {
	in, provider, err := validateCreate(in)
	if err != nil {
		return models.Booking{}, err
	}

	trip, err := s.Trips.GetByID(ctx, in.TripID)
	if err != nil {
		return models.Booking{}, err
	}
	if !trip.IsBookable() {
		return models.Booking{}, domain.ValidationError{Field: "trip_id", Msg: "trip is not open for booking"}
	}
	if !trip.AllowsProvider(provider) {
		return models.Booking{}, domain.ValidationError{Field: "payment_provider", Msg: "payment provider not available for this trip"}
	}

	ok, err := s.Trips.HasAvailableSeats(ctx, trip.ID, in.Seats)
	if err != nil {
		return models.Booking{}, err
	}
	if !ok {
		return models.Booking{}, domain.ValidationError{Field: "seats", Msg: "not enough seats available", Err: domain.ErrInsufficientSeats}
	}
	if err := s.Trips.IncrementSeatsTaken(ctx, trip.ID, in.Seats); err != nil {
		return models.Booking{}, err
	}

	b := models.Booking{
		TripID:          trip.ID,
		UserName:        in.UserName,
		UserPhone:       in.UserPhone,
		UserEmail:       in.UserEmail,
		Seats:           in.Seats,
		Status:          models.BookingPending,
		PaymentStatus:   models.PaymentPending,
		PaymentProvider: provider,
	}
	if err := s.Bookings.Create(ctx, &b); err != nil {
		if rerr := s.Trips.DecrementSeatsTaken(ctx, trip.ID, in.Seats); rerr != nil {
			s.log().Error("release seats after failed booking insert",
				zap.Int64("trip_id", trip.ID),
				zap.Int("seats", in.Seats),
				zap.Error(rerr),
			)
		}
		return models.Booking{}, err
	}

	s.log().Info("booking created",
		zap.Int64("booking_id", b.ID),
		zap.Int64("trip_id", b.TripID),
		zap.Int("seats", b.Seats),
		zap.String("provider", string(b.PaymentProvider)),
	)
	s.notify(ctx, b.ID, notify.KindCreated)
	return b, nil
}

func (s *BookingService) Get(ctx context.Context, id int64) (models.Booking, error) {
	if id <= 0 {
		return models.Booking{}, domain.ValidationError{Field: "booking_id", Msg: "invalid id"}
	}
	return s.Bookings.GetByID(ctx, id)
}

func (s *BookingService) ListByEmail(ctx context.Context, email string) ([]models.Booking, error) {
	return s.Bookings.ListByEmail(ctx, utils.NormalizeEmail(email))
}

func (s *BookingService) ListByTrip(ctx context.Context, tripID int64) ([]models.Booking, error) {
	return s.Bookings.ListByTrip(ctx, tripID)
}

func (s *BookingService) ListByStatus(ctx context.Context, status models.BookingStatus, page domain.Pagination) ([]models.Booking, error) {
	return s.Bookings.ListByStatus(ctx, status, page)
}

// change is what one state machine step decided to do with a booking.
type change struct {
	write   bool
	kind    notify.Kind
	release int
	enqueue bool
}

// apply reloads the booking, lets step decide, and writes the result under
// the row version. A step that releases seats commits the booking and the
// trip decrement together, so a failure leaves the booking as it was and the
// action can be retried. A stale version replays the step on fresh data. Side
// effects run once, after the write that won.
func (s *BookingService) apply(ctx context.Context, id int64, step func(b *models.Booking) (change, error)) (models.Booking, error) {
	for attempt := 1; ; attempt++ {
		b, err := s.Get(ctx, id)
		if err != nil {
			return models.Booking{}, err
		}
		ch, err := step(&b)
		if err != nil {
			return b, err
		}
		if !ch.write {
			return b, nil
		}

		if ch.release > 0 {
			err = s.Bookings.UpdateReleasingSeats(ctx, &b, ch.release)
		} else {
			err = s.Bookings.Update(ctx, &b)
		}
		if errors.Is(err, repositories.ErrStaleVersion) && attempt < staleRetries {
			continue
		}
		if errors.Is(err, repositories.ErrStaleVersion) {
			return b, domain.ConflictError{Resource: "booking", Msg: "booking was modified concurrently", Err: err}
		}
		if err != nil && ch.release > 0 {
			s.log().Error("release seats",
				zap.Int64("booking_id", b.ID),
				zap.Int64("trip_id", b.TripID),
				zap.Int("seats", ch.release),
				zap.Error(err),
			)
			return models.Booking{}, domain.InternalError{Msg: "booking not updated, seats still held", Err: err}
		}
		if err != nil {
			return b, err
		}

		if ch.enqueue {
			s.enqueueRefund(ctx, queue.RefundTask{BookingID: b.ID})
		}
		s.notify(ctx, b.ID, ch.kind)
		return b, nil
	}
}

func (s *BookingService) enqueueRefund(ctx context.Context, task queue.RefundTask) {
	if s.Refunds == nil {
		s.log().Error("refund queue not configured", zap.Int64("booking_id", task.BookingID))
		return
	}
	if err := s.Refunds.Enqueue(ctx, task); err != nil {
		s.log().Error("enqueue refund", zap.Int64("booking_id", task.BookingID), zap.Error(err))
		return
	}
	s.log().Info("refund enqueued", zap.Int64("booking_id", task.BookingID))
}

// releaseSeats marks the booking's seats as returned and reports how many the
// caller must decrement.
func releaseSeats(b *models.Booking) int {
	if b.SeatsReleased {
		return 0
	}
	b.SeatsReleased = true
	return b.Seats
}

// Confirm moves a pending booking to confirmed. Confirming an already
// confirmed booking is a no-op.
func (s *BookingService) Confirm(ctx context.Context, id int64) (models.Booking, error) {
	return s.apply(ctx, id, func(b *models.Booking) (change, error) {
		if b.Status == models.BookingConfirmed {
			return change{}, nil
		}
		if !b.Status.CanTransition(models.BookingConfirmed) {
			return change{}, domain.InvalidTransitionError{Action: "confirm", From: string(b.Status)}
		}
		b.Status = models.BookingConfirmed
		return change{write: true, kind: notify.KindConfirmed}, nil
	})
}

// Cancel releases the seats of a non-terminal booking. A booking paid online
// goes to refund_requested and a refund task is queued; anything else is
// cancelled outright.
func (s *BookingService) Cancel(ctx context.Context, id int64, reason string) (models.Booking, error) {
	reason = utils.NormalizeSpace(reason)
	if len(reason) > maxCancellationReason {
		return models.Booking{}, domain.ValidationError{Field: "reason", Msg: "must be at most 500 characters"}
	}

	return s.apply(ctx, id, func(b *models.Booking) (change, error) {
		if !b.CanBeCancelled() {
			return change{}, domain.InvalidTransitionError{Action: "cancel", From: string(b.Status)}
		}
		// Already cancelled into refund_requested: seats are back, job queued.
		if b.Status == models.BookingRefundRequested && b.CancelledAt != nil {
			return change{}, nil
		}

		now := s.now()
		b.CancelledAt = &now
		if reason != "" {
			b.CancellationReason = reason
		}
		ch := change{write: true, release: releaseSeats(b)}

		if b.IsPaidOnline() {
			if b.Status != models.BookingRefundRequested {
				b.Status = models.BookingRefundRequested
				b.RefundRequestedAt = &now
				ch.kind = notify.KindRefundRequested
			}
			ch.enqueue = true
			return ch, nil
		}

		b.Status = models.BookingCancelled
		ch.kind = notify.KindCancelled
		return ch, nil
	})
}

// RequestRefund is the customer self-service request. It only records the
// request; the refund itself runs when an operator queues or processes it.
func (s *BookingService) RequestRefund(ctx context.Context, id int64) (models.Booking, error) {
	return s.markRefundRequested(ctx, id, false)
}

// markRefundRequested moves a paid online booking to refund_requested. With
// allowRequested a booking already in refund_requested is left as it is.
func (s *BookingService) markRefundRequested(ctx context.Context, id int64, allowRequested bool) (models.Booking, error) {
	return s.apply(ctx, id, func(b *models.Booking) (change, error) {
		if b.Status.IsTerminal() {
			return change{}, domain.InvalidTransitionError{Action: "request refund for", From: string(b.Status)}
		}
		if b.Status == models.BookingRefundRequested {
			if allowRequested {
				return change{}, nil
			}
			return change{}, domain.InvalidTransitionError{Action: "request refund for", From: string(b.Status)}
		}
		if !b.CanRequestRefund() {
			return change{}, domain.ValidationError{Field: "booking", Msg: "refund is only available for bookings paid online"}
		}
		now := s.now()
		b.Status = models.BookingRefundRequested
		b.RefundRequestedAt = &now
		return change{write: true, kind: notify.KindRefundRequested}, nil
	})
}

// EnqueueRefund queues a provider refund, first recording the refund request
// when the booking does not have one yet.
func (s *BookingService) EnqueueRefund(ctx context.Context, id int64, amount *int64) (models.Booking, error) {
	if amount != nil && *amount <= 0 {
		return models.Booking{}, domain.ValidationError{Field: "amount", Msg: "must be greater than zero"}
	}
	b, err := s.markRefundRequested(ctx, id, true)
	if err != nil {
		return b, err
	}
	if s.Refunds == nil {
		return b, domain.InternalError{Msg: "refund queue not configured"}
	}
	if err := s.Refunds.Enqueue(ctx, queue.RefundTask{BookingID: b.ID, Amount: amount}); err != nil {
		return b, domain.InternalError{Msg: "enqueue refund", Err: err}
	}
	s.log().Info("refund enqueued by operator", zap.Int64("booking_id", b.ID))
	return b, nil
}

// ProcessRefund records a refund settled outside the gateways. The amount is
// bounded by what the booking was charged.
func (s *BookingService) ProcessRefund(ctx context.Context, id int64, amount int64) (models.Booking, error) {
	if amount <= 0 {
		return models.Booking{}, domain.ValidationError{Field: "amount", Msg: "must be greater than zero"}
	}
	return s.apply(ctx, id, func(b *models.Booking) (change, error) {
		if b.Status != models.BookingRefundRequested {
			return change{}, domain.InvalidTransitionError{Action: "process refund for", From: string(b.Status)}
		}
		trip, err := s.Trips.GetByID(ctx, b.TripID)
		if err != nil {
			return change{}, err
		}
		if charged := trip.PriceFor(b.Seats); amount > charged-b.RefundAmount {
			return change{}, domain.ValidationError{Field: "amount", Msg: "exceeds the amount charged for this booking"}
		}
		now := s.now()
		b.Status = models.BookingRefunded
		b.RefundedAt = &now
		b.RefundAmount += amount
		return change{write: true, kind: notify.KindRefunded, release: releaseSeats(b)}, nil
	})
}

// CompleteRefund books a gateway refund of amount against the booking. The
// first refund moves it to refunded; later partial refunds only add up.
func (s *BookingService) CompleteRefund(ctx context.Context, id int64, amount int64) (models.Booking, error) {
	return s.apply(ctx, id, func(b *models.Booking) (change, error) {
		now := s.now()
		b.RefundAmount += amount
		ch := change{write: true}
		switch b.Status {
		case models.BookingRefunded:
		case models.BookingPending, models.BookingConfirmed:
			b.RefundRequestedAt = &now
			fallthrough
		case models.BookingRefundRequested:
			b.Status = models.BookingRefunded
			b.RefundedAt = &now
			ch.kind = notify.KindRefunded
			ch.release = releaseSeats(b)
		default:
			return change{}, domain.InvalidTransitionError{Action: "refund", From: string(b.Status)}
		}
		return ch, nil
	})
}

// SetPaymentStatus records the payment outcome on the booking. A paid booking
// never falls back to another payment status. It reports whether anything
// changed, and sends the paid notification only on that change.
func (s *BookingService) SetPaymentStatus(ctx context.Context, id int64, status models.PaymentStatus) (bool, error) {
	changed := false
	_, err := s.apply(ctx, id, func(b *models.Booking) (change, error) {
		changed = false
		if b.PaymentStatus == status || b.PaymentStatus == models.PaymentPaid {
			return change{}, nil
		}
		b.PaymentStatus = status
		changed = true
		ch := change{write: true}
		if status == models.PaymentPaid {
			ch.kind = notify.KindPaid
		}
		return ch, nil
	})
	return changed, err
}
