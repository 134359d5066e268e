package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"venue/entity"
)

type RedemptionsRepository struct {
	db *sqlx.DB
}

func NewRedemptionsRepository(db *sqlx.DB) RedemptionsRepository {
	if db == nil {
		panic("missing db")
	}

	return RedemptionsRepository{db: db}
}

type redemptionRow struct {
	BookingID  string    `db:"booking_id"`
	TokenID    string    `db:"token_id"`
	RedeemedAt time.Time `db:"redeemed_at"`
	RedeemedBy string    `db:"redeemed_by"`
}

// RecordRedemption fails with entity.ErrAlreadyRedeemed when the booking's
// ticket was scanned before.
func (r RedemptionsRepository) RecordRedemption(ctx context.Context, redemption entity.Redemption) error {
	_, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), `
		INSERT INTO ticket_redemptions (booking_id, token_id, redeemed_at, redeemed_by)
		VALUES (:booking_id, :token_id, :redeemed_at, :redeemed_by)`,
		redemptionRow(redemption),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: booking %s", entity.ErrAlreadyRedeemed, redemption.BookingID)
		}
		return fmt.Errorf("could not record redemption: %w", err)
	}

	return nil
}

func (r RedemptionsRepository) GetRedemption(ctx context.Context, bookingID string) (entity.Redemption, error) {
	var row redemptionRow
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &row, `SELECT * FROM ticket_redemptions WHERE booking_id = $1`, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return entity.Redemption{}, fmt.Errorf("%w: redemption of booking %s", entity.ErrNotFound, bookingID)
		}
		return entity.Redemption{}, fmt.Errorf("could not get redemption: %w", err)
	}

	row.RedeemedAt = row.RedeemedAt.UTC()
	return entity.Redemption(row), nil
}
