package services

import (
	"context"

	"go.uber.org/zap"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/gateway"
	"tripbooking/internal/queue"
	"tripbooking/internal/utils"
)

// RefundExecutor is the orchestrator call the job delegates to.
type RefundExecutor interface {
	CreateRefundForBooking(ctx context.Context, b models.Booking, amount *int64) (*gateway.RefundResponse, error)
}

// RefundJob executes queued refunds. Returning an error asks the queue for
// another delivery; nil acknowledges the task.
type RefundJob struct {
	Bookings BookingStore
	Refunds  RefundExecutor
	Log      *zap.Logger
}

func (j *RefundJob) log() *zap.Logger {
	if j.Log != nil {
		return j.Log
	}
	return utils.Logger()
}

// Handle matches queue.Handler.
func (j *RefundJob) Handle(ctx context.Context, task queue.RefundTask, attempt int) error {
	log := j.log().With(zap.Int64("booking_id", task.BookingID), zap.Int("attempt", attempt))

	b, err := j.Bookings.GetByID(ctx, task.BookingID)
	if domain.IsNotFound(err) {
		log.Warn("refund job: booking not found")
		return nil
	}
	if err != nil {
		return err
	}

	resp, err := j.Refunds.CreateRefundForBooking(ctx, b, task.Amount)
	if err != nil {
		if permanent(err) {
			log.Error("refund job: refund rejected, manual follow-up needed", zap.Error(err))
			return nil
		}
		log.Error("refund job: refund failed", zap.Error(err))
		return err
	}
	if resp == nil {
		log.Warn("refund job: refund could not be created",
			zap.String("payment_status", string(b.PaymentStatus)),
			zap.String("provider", string(b.PaymentProvider)),
		)
		return nil
	}
	log.Info("refund job: refund processed",
		zap.String("refund_id", resp.RefundID),
		zap.Int64("amount", resp.Amount),
	)
	return nil
}

// permanent reports errors another attempt cannot fix.
func permanent(err error) bool {
	if gwErr, ok := domain.AsGateway(err); ok {
		return !gwErr.Retryable()
	}
	return domain.IsValidation(err) || domain.IsUnsupported(err) || domain.IsInvalidTransition(err)
}
