package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	intconfig "tripbooking/internal/config"
	intdb "tripbooking/internal/db"
	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
)

type PaymentRepository struct {
	DB *sql.DB
}

func (r PaymentRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

const paymentColumns = `id, booking_id, provider, amount, currency, status, transaction_id,
	COALESCE(confirmation_type, ''), COALESCE(refund_id, ''), refunded_amount, metadata, version, created_at, updated_at`

func scanPayment(row rowScanner) (models.Payment, error) {
	var (
		p    models.Payment
		meta []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.BookingID,
		&p.Provider,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.TransactionID,
		&p.ConfirmationType,
		&p.RefundID,
		&p.RefundedAmount,
		&meta,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return models.Payment{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return models.Payment{}, domain.InternalError{Msg: "decode payment metadata", Err: err}
		}
	}
	return p, nil
}

func encodeMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, domain.InternalError{Msg: "encode payment metadata", Err: err}
	}
	return string(raw), nil
}

func (r PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}
	res, err := r.db().ExecContext(ctx, `
		INSERT INTO payments (booking_id, provider, amount, currency, status, transaction_id, confirmation_type, refunded_amount, metadata, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, 1)`,
		p.BookingID, p.Provider, p.Amount, p.Currency, p.Status, p.TransactionID, intdb.NullIfEmpty(p.ConfirmationType), meta,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	p.Version = 1
	return nil
}

func (r PaymentRepository) GetByID(ctx context.Context, id int64) (models.Payment, error) {
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=? LIMIT 1`, id)
}

func (r PaymentRepository) FindByTransactionID(ctx context.Context, provider models.Provider, transactionID string) (models.Payment, error) {
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider=? AND transaction_id=? LIMIT 1`, provider, transactionID)
}

// FindSuccessfulForBooking returns the most recent settled payment of a
// booking through provider.
func (r PaymentRepository) FindSuccessfulForBooking(ctx context.Context, bookingID int64, provider models.Provider) (models.Payment, error) {
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE booking_id=? AND provider=? AND status=? ORDER BY id DESC LIMIT 1`,
		bookingID, provider, models.ChargeSuccess)
}

func (r PaymentRepository) ListByBooking(ctx context.Context, bookingID int64) ([]models.Payment, error) {
	rows, err := r.db().QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id=? ORDER BY id ASC`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r PaymentRepository) one(ctx context.Context, query string, args ...any) (models.Payment, error) {
	p, err := scanPayment(r.db().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Payment{}, domain.NotFoundError{Resource: "payment", Err: err}
	}
	return p, err
}

// Update writes status, ids, refund bookkeeping and metadata guarded by
// p.Version.
func (r PaymentRepository) Update(ctx context.Context, p *models.Payment) error {
	if p.RefundedAmount > p.Amount {
		return domain.ValidationError{Field: "refunded_amount", Msg: "exceeds payment amount"}
	}
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}
	res, err := r.db().ExecContext(ctx, `
		UPDATE payments
		SET status=?, transaction_id=?, refund_id=?, refunded_amount=?, metadata=?, version=version+1
		WHERE id=? AND version=?`,
		p.Status, p.TransactionID, intdb.NullIfEmpty(p.RefundID), p.RefundedAmount, meta,
		p.ID, p.Version,
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
	p.Version++
	return nil
}
