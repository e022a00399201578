package db

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []struct {
	table string
	ddl   string
}{
	{"trips", `
CREATE TABLE IF NOT EXISTS trips (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	title VARCHAR(255) NOT NULL,
	event_name VARCHAR(255) NOT NULL DEFAULT '',
	departure_at DATETIME NOT NULL,
	price BIGINT NOT NULL DEFAULT 0,
	currency CHAR(3) NOT NULL DEFAULT 'RUB',
	seats_total INT NOT NULL,
	seats_taken INT NOT NULL DEFAULT 0,
	status VARCHAR(20) NOT NULL DEFAULT 'draft',
	payment_providers JSON NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	CONSTRAINT chk_trip_seats CHECK (seats_taken >= 0 AND seats_taken <= seats_total),
	KEY idx_trip_status (status)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`},
	{"bookings", `
CREATE TABLE IF NOT EXISTS bookings (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	trip_id BIGINT NOT NULL,
	user_name VARCHAR(255) NOT NULL,
	user_phone VARCHAR(50) NOT NULL,
	user_email VARCHAR(255) NOT NULL,
	seats INT NOT NULL,
	status VARCHAR(20) NOT NULL DEFAULT 'pending',
	payment_status VARCHAR(20) NOT NULL DEFAULT 'pending',
	payment_provider VARCHAR(30) NOT NULL DEFAULT 'pay_on_arrival',
	cancellation_reason VARCHAR(500) NULL,
	cancelled_at DATETIME NULL,
	refund_requested_at DATETIME NULL,
	refunded_at DATETIME NULL,
	refund_amount BIGINT NOT NULL DEFAULT 0,
	seats_released TINYINT(1) NOT NULL DEFAULT 0,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	KEY idx_booking_trip (trip_id),
	KEY idx_booking_email (user_email),
	KEY idx_booking_status (status),
	CONSTRAINT fk_booking_trip FOREIGN KEY (trip_id) REFERENCES trips(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`},
	{"payments", `
CREATE TABLE IF NOT EXISTS payments (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	booking_id BIGINT NOT NULL,
	provider VARCHAR(30) NOT NULL,
	amount BIGINT NOT NULL,
	currency CHAR(3) NOT NULL,
	status VARCHAR(30) NOT NULL DEFAULT 'pending',
	transaction_id VARCHAR(255) NOT NULL,
	confirmation_type VARCHAR(20) NULL,
	refund_id VARCHAR(255) NULL,
	refunded_amount BIGINT NOT NULL DEFAULT 0,
	metadata JSON NULL,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	UNIQUE KEY uniq_payment_tx (provider, transaction_id),
	KEY idx_payment_booking (booking_id),
	CONSTRAINT chk_payment_refund CHECK (refunded_amount >= 0 AND refunded_amount <= amount),
	CONSTRAINT fk_payment_booking FOREIGN KEY (booking_id) REFERENCES bookings(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`},
	{"login_tokens", `
CREATE TABLE IF NOT EXISTS login_tokens (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	email VARCHAR(255) NOT NULL,
	token CHAR(64) NOT NULL,
	expires_at DATETIME NOT NULL,
	used_at DATETIME NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE KEY uniq_login_token (token),
	KEY idx_login_email (email)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`},
}

// EnsureSchema creates missing tables in dependency order.
func EnsureSchema(ctx context.Context, conn *sql.DB) error {
	for _, t := range schema {
		if HasTable(ctx, conn, t.table) {
			continue
		}
		if _, err := conn.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.table, err)
		}
	}
	return nil
}
