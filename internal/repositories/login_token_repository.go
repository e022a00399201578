package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	intconfig "tripbooking/internal/config"
	intdb "tripbooking/internal/db"
	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
)

type LoginTokenRepository struct {
	DB *sql.DB
}

func (r LoginTokenRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

// Create stores t after deleting the unused tokens of the same email, so
// only the newest link works.
func (r LoginTokenRepository) Create(ctx context.Context, t *models.LoginToken) error {
	email := strings.ToLower(t.Email)
	return intdb.WithTx(ctx, r.db(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM login_tokens WHERE email=? AND used_at IS NULL`, email); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO login_tokens (email, token, expires_at) VALUES (?, ?, ?)`,
			email, t.Token, t.ExpiresAt,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		t.ID = id
		t.Email = email
		return nil
	})
}

// Consume marks token used if it is unused and unexpired at now. The check
// and the mark are one UPDATE, so a token can be redeemed once.
func (r LoginTokenRepository) Consume(ctx context.Context, token string, now time.Time) (models.LoginToken, error) {
	res, err := r.db().ExecContext(ctx,
		`UPDATE login_tokens SET used_at=? WHERE token=? AND used_at IS NULL AND expires_at > ?`,
		now, token, now,
	)
	if err != nil {
		return models.LoginToken{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.LoginToken{}, err
	}
	if n == 0 {
		return models.LoginToken{}, domain.ValidationError{Field: "token", Msg: "invalid or expired token"}
	}

	var (
		t    models.LoginToken
		used sql.NullTime
	)
	err = r.db().QueryRowContext(ctx,
		`SELECT id, email, token, expires_at, used_at, created_at FROM login_tokens WHERE token=? LIMIT 1`, token,
	).Scan(&t.ID, &t.Email, &t.Token, &t.ExpiresAt, &used, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LoginToken{}, domain.NotFoundError{Resource: "login token", Err: err}
	}
	if err != nil {
		return models.LoginToken{}, err
	}
	t.UsedAt = intdb.TimePtr(used)
	return t, nil
}
