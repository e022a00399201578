package services

import (
	"context"
	"time"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
	"tripbooking/internal/gateway"
	"tripbooking/internal/queue"
)

// TripStore is the seat inventory ledger as seen by the services.
type TripStore interface {
	GetByID(ctx context.Context, id int64) (models.Trip, error)
	HasAvailableSeats(ctx context.Context, tripID int64, required int) (bool, error)
	IncrementSeatsTaken(ctx context.Context, tripID int64, count int) error
	DecrementSeatsTaken(ctx context.Context, tripID int64, count int) error
}

type BookingStore interface {
	Create(ctx context.Context, b *models.Booking) error
	GetByID(ctx context.Context, id int64) (models.Booking, error)
	ListByEmail(ctx context.Context, email string) ([]models.Booking, error)
	ListByTrip(ctx context.Context, tripID int64) ([]models.Booking, error)
	ListByStatus(ctx context.Context, status models.BookingStatus, page domain.Pagination) ([]models.Booking, error)
	CountByEmail(ctx context.Context, email string) (int, error)
	Update(ctx context.Context, b *models.Booking) error
	// UpdateReleasingSeats writes the booking and decrements its trip's
	// seats_taken atomically.
	UpdateReleasingSeats(ctx context.Context, b *models.Booking, seats int) error
}

type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id int64) (models.Payment, error)
	FindByTransactionID(ctx context.Context, provider models.Provider, transactionID string) (models.Payment, error)
	FindSuccessfulForBooking(ctx context.Context, bookingID int64, provider models.Provider) (models.Payment, error)
	ListByBooking(ctx context.Context, bookingID int64) ([]models.Payment, error)
	Update(ctx context.Context, p *models.Payment) error
}

type LoginTokenStore interface {
	Create(ctx context.Context, t *models.LoginToken) error
	Consume(ctx context.Context, token string, now time.Time) (models.LoginToken, error)
}

// Gateways resolves a driver by provider key.
type Gateways interface {
	Get(p models.Provider) (gateway.Gateway, error)
}

// RefundEnqueuer hands refund work to the background worker.
type RefundEnqueuer interface {
	Enqueue(ctx context.Context, task queue.RefundTask) error
}

// staleRetries bounds how often a read-modify-write is replayed after a
// concurrent writer bumped the row version.
const staleRetries = 3
