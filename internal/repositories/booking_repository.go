package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	intconfig "tripbooking/internal/config"
	intdb "tripbooking/internal/db"
	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
)

type BookingRepository struct {
	DB *sql.DB
}

func (r BookingRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

const bookingColumns = `id, trip_id, user_name, user_phone, user_email, seats, status, payment_status, payment_provider,
	COALESCE(cancellation_reason, ''), cancelled_at, refund_requested_at, refunded_at, refund_amount, seats_released,
	version, created_at, updated_at`

func scanBooking(row rowScanner) (models.Booking, error) {
	var (
		b                                 models.Booking
		cancelledAt, requestedAt, refunded sql.NullTime
	)
	if err := row.Scan(
		&b.ID,
		&b.TripID,
		&b.UserName,
		&b.UserPhone,
		&b.UserEmail,
		&b.Seats,
		&b.Status,
		&b.PaymentStatus,
		&b.PaymentProvider,
		&b.CancellationReason,
		&cancelledAt,
		&requestedAt,
		&refunded,
		&b.RefundAmount,
		&b.SeatsReleased,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return models.Booking{}, err
	}
	b.CancelledAt = intdb.TimePtr(cancelledAt)
	b.RefundRequestedAt = intdb.TimePtr(requestedAt)
	b.RefundedAt = intdb.TimePtr(refunded)
	return b, nil
}

func (r BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	res, err := r.db().ExecContext(ctx, `
		INSERT INTO bookings (trip_id, user_name, user_phone, user_email, seats, status, payment_status, payment_provider, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		b.TripID, b.UserName, b.UserPhone, strings.ToLower(b.UserEmail), b.Seats, b.Status, b.PaymentStatus, b.PaymentProvider,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	b.Version = 1
	return nil
}

func (r BookingRepository) GetByID(ctx context.Context, id int64) (models.Booking, error) {
	row := r.db().QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=? LIMIT 1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Booking{}, domain.NotFoundError{Resource: "booking", Err: err}
	}
	return b, err
}

func (r BookingRepository) ListByEmail(ctx context.Context, email string) ([]models.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE user_email=? ORDER BY created_at DESC`, strings.ToLower(email))
}

func (r BookingRepository) ListByTrip(ctx context.Context, tripID int64) ([]models.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE trip_id=? ORDER BY id ASC`, tripID)
}

// ListByStatus pages through bookings, all statuses when status is empty.
func (r BookingRepository) ListByStatus(ctx context.Context, status models.BookingStatus, page domain.Pagination) ([]models.Booking, error) {
	page = page.Normalize()
	if status == "" {
		return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY id DESC LIMIT ? OFFSET ?`, page.PageSize, page.Offset())
	}
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE status=? ORDER BY id DESC LIMIT ? OFFSET ?`, status, page.PageSize, page.Offset())
}

func (r BookingRepository) CountByEmail(ctx context.Context, email string) (int, error) {
	var n int
	err := r.db().QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE user_email=?`, strings.ToLower(email)).Scan(&n)
	return n, err
}

func (r BookingRepository) list(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := r.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Update writes the mutable booking fields if the row still has b.Version,
// then bumps b.Version. A concurrent writer yields ErrStaleVersion.
func (r BookingRepository) Update(ctx context.Context, b *models.Booking) error {
	if err := updateBooking(ctx, r.db(), b); err != nil {
		return err
	}
	b.Version++
	return nil
}

// UpdateReleasingSeats writes the booking and gives seats back to its trip in
// one transaction. A stale version or a failed decrement leaves both rows
// untouched, so the caller can retry the whole step.
func (r BookingRepository) UpdateReleasingSeats(ctx context.Context, b *models.Booking, seats int) error {
	err := intdb.WithTx(ctx, r.db(), func(tx *sql.Tx) error {
		if err := updateBooking(ctx, tx, b); err != nil {
			return err
		}
		_, err := decrementSeats(ctx, tx, b.TripID, seats)
		return err
	})
	if err != nil {
		return err
	}
	b.Version++
	return nil
}

func updateBooking(ctx context.Context, ex intdb.Execer, b *models.Booking) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE bookings
		SET status=?, payment_status=?, payment_provider=?, cancellation_reason=?, cancelled_at=?,
		    refund_requested_at=?, refunded_at=?, refund_amount=?, seats_released=?, version=version+1
		WHERE id=? AND version=?`,
		b.Status, b.PaymentStatus, b.PaymentProvider, intdb.NullIfEmpty(b.CancellationReason), intdb.NullTime(b.CancelledAt),
		intdb.NullTime(b.RefundRequestedAt), intdb.NullTime(b.RefundedAt), b.RefundAmount, b.SeatsReleased,
		b.ID, b.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleVersion
	}
	return nil
}
