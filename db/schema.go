package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// InitializeDatabaseSchema creates the tables used by the booking engine. It
// is safe to run on every start.
func InitializeDatabaseSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS units (
			unit_id UUID PRIMARY KEY,
			kind VARCHAR(16) NOT NULL,
			title VARCHAR(255) NOT NULL,
			manager_id VARCHAR(255) NOT NULL,
			product_id VARCHAR(255) NOT NULL DEFAULT '',
			valid_day VARCHAR(10) NOT NULL DEFAULT '',
			valid_from TIMESTAMPTZ NOT NULL,
			valid_until TIMESTAMPTZ NOT NULL,
			prices JSONB NOT NULL,
			discount_percent INT NOT NULL DEFAULT 0,
			currency VARCHAR(3) NOT NULL,
			capacity INT NOT NULL CHECK (capacity >= 0),
			status VARCHAR(16) NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS units_day_pass_idx ON units (product_id, valid_day) WHERE kind = 'day_pass';

		CREATE TABLE IF NOT EXISTS unit_ledger (
			unit_id UUID PRIMARY KEY REFERENCES units (unit_id),
			capacity INT NOT NULL,
			reserved INT NOT NULL DEFAULT 0,
			CHECK (reserved >= 0 AND reserved <= capacity)
		);

		CREATE TABLE IF NOT EXISTS bookings (
			booking_id UUID PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			unit_id UUID NOT NULL REFERENCES units (unit_id),
			quantity INT NOT NULL CHECK (quantity >= 1),
			items JSONB NOT NULL,
			unit_prices JSONB NOT NULL,
			discount_percent INT NOT NULL DEFAULT 0,
			total_amount BIGINT NOT NULL,
			currency VARCHAR(3) NOT NULL,
			status VARCHAR(16) NOT NULL,
			payment_status VARCHAR(16) NOT NULL,
			cancel_reason VARCHAR(16) NOT NULL DEFAULT '',
			capacity_released BOOLEAN NOT NULL DEFAULT FALSE,
			payment_ref VARCHAR(255) NOT NULL DEFAULT '',
			ticket_nonce VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			paid_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS bookings_user_idx ON bookings (user_id);
		CREATE INDEX IF NOT EXISTS bookings_pending_unit_idx ON bookings (unit_id) WHERE status = 'pending';

		CREATE TABLE IF NOT EXISTS payment_intents (
			session_ref VARCHAR(255) PRIMARY KEY,
			booking_id UUID NOT NULL REFERENCES bookings (booking_id),
			amount BIGINT NOT NULL,
			currency VARCHAR(3) NOT NULL,
			checkout_url TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			consumed_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS payment_intents_booking_idx ON payment_intents (booking_id);

		CREATE TABLE IF NOT EXISTS ticket_redemptions (
			booking_id UUID PRIMARY KEY REFERENCES bookings (booking_id),
			token_id VARCHAR(64) NOT NULL,
			redeemed_at TIMESTAMPTZ NOT NULL,
			redeemed_by VARCHAR(255) NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("could not initialize database schema: %w", err)
	}

	return nil
}
