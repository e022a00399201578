package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	intconfig "tripbooking/internal/config"
	intdb "tripbooking/internal/db"
	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
)

// ErrStaleVersion is returned by optimistic updates when the row changed
// since it was read.
var ErrStaleVersion = errors.New("stale row version")

type rowScanner interface {
	Scan(dest ...any) error
}

// TripRepository owns the trips table and is the seat inventory ledger:
// seats_taken is only changed by IncrementSeatsTaken, DecrementSeatsTaken and
// BookingRepository.UpdateReleasingSeats.
type TripRepository struct {
	DB *sql.DB
}

func (r TripRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

const tripColumns = `id, title, event_name, departure_at, price, currency, seats_total, seats_taken, status,
	COALESCE(payment_providers, '[]'), created_at, updated_at`

func scanTrip(row rowScanner) (models.Trip, error) {
	var (
		t         models.Trip
		providers []byte
	)
	if err := row.Scan(
		&t.ID,
		&t.Title,
		&t.EventName,
		&t.DepartureAt,
		&t.Price,
		&t.Currency,
		&t.SeatsTotal,
		&t.SeatsTaken,
		&t.Status,
		&providers,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return models.Trip{}, err
	}
	if len(providers) > 0 {
		if err := json.Unmarshal(providers, &t.PaymentProviders); err != nil {
			return models.Trip{}, domain.InternalError{Msg: "decode trip payment providers", Err: err}
		}
	}
	return t, nil
}

func (r TripRepository) GetByID(ctx context.Context, id int64) (models.Trip, error) {
	row := r.db().QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=? LIMIT 1`, id)
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Trip{}, domain.NotFoundError{Resource: "trip", Err: err}
	}
	return t, err
}

// ListPublished returns upcoming published trips ordered by departure.
func (r TripRepository) ListPublished(ctx context.Context, from time.Time) ([]models.Trip, error) {
	rows, err := r.db().QueryContext(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE status=? AND departure_at >= ? ORDER BY departure_at ASC`,
		models.TripPublished, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create inserts a trip with zero seats taken.
func (r TripRepository) Create(ctx context.Context, t *models.Trip) error {
	providers, err := json.Marshal(t.PaymentProviders)
	if err != nil {
		return domain.InternalError{Msg: "encode trip payment providers", Err: err}
	}
	if t.PaymentProviders == nil {
		providers = []byte("[]")
	}
	res, err := r.db().ExecContext(ctx, `
		INSERT INTO trips (title, event_name, departure_at, price, currency, seats_total, seats_taken, status, payment_providers)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		t.Title, t.EventName, t.DepartureAt, t.Price, t.Currency, t.SeatsTotal, t.Status, string(providers),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	t.SeatsTaken = 0
	return nil
}

func (r TripRepository) HasAvailableSeats(ctx context.Context, tripID int64, required int) (bool, error) {
	var total, taken int
	err := r.db().QueryRowContext(ctx, `SELECT seats_total, seats_taken FROM trips WHERE id=? LIMIT 1`, tripID).Scan(&total, &taken)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.NotFoundError{Resource: "trip", Err: err}
	}
	if err != nil {
		return false, err
	}
	return total-taken >= required, nil
}

// IncrementSeatsTaken reserves count seats. The capacity check and the
// increment are a single conditional UPDATE, so concurrent callers can never
// push seats_taken past seats_total.
func (r TripRepository) IncrementSeatsTaken(ctx context.Context, tripID int64, count int) error {
	if count <= 0 {
		return domain.ValidationError{Field: "seats", Msg: "must be at least 1"}
	}
	res, err := r.db().ExecContext(ctx, `
		UPDATE trips
		SET seats_taken = seats_taken + ?
		WHERE id = ? AND seats_taken + ? <= seats_total`,
		count, tripID, count,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if ok, err := r.exists(ctx, tripID); err != nil {
		return err
	} else if !ok {
		return domain.NotFoundError{Resource: "trip"}
	}
	return domain.ValidationError{Field: "seats", Msg: "not enough seats available", Err: domain.ErrInsufficientSeats}
}

// DecrementSeatsTaken releases count seats, clamping at zero.
func (r TripRepository) DecrementSeatsTaken(ctx context.Context, tripID int64, count int) error {
	if count <= 0 {
		return nil
	}
	n, err := decrementSeats(ctx, r.db(), tripID, count)
	if err != nil {
		return err
	}
	// MySQL reports 0 affected rows when the value was already 0.
	if n == 0 {
		if ok, err := r.exists(ctx, tripID); err != nil {
			return err
		} else if !ok {
			return domain.NotFoundError{Resource: "trip"}
		}
	}
	return nil
}

func decrementSeats(ctx context.Context, ex intdb.Execer, tripID int64, count int) (int64, error) {
	if count <= 0 {
		return 0, nil
	}
	res, err := ex.ExecContext(ctx, `
		UPDATE trips
		SET seats_taken = GREATEST(CAST(seats_taken AS SIGNED) - ?, 0)
		WHERE id = ?`,
		count, tripID,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r TripRepository) exists(ctx context.Context, tripID int64) (bool, error) {
	var id int64
	err := r.db().QueryRowContext(ctx, `SELECT id FROM trips WHERE id=? LIMIT 1`, tripID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
