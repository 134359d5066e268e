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

type PaymentIntentsRepository struct {
	db *sqlx.DB
}

func NewPaymentIntentsRepository(db *sqlx.DB) PaymentIntentsRepository {
	if db == nil {
		panic("missing db")
	}

	return PaymentIntentsRepository{db: db}
}

type paymentIntentRow struct {
	SessionRef  string       `db:"session_ref"`
	BookingID   string       `db:"booking_id"`
	Amount      int64        `db:"amount"`
	Currency    string       `db:"currency"`
	CheckoutURL string       `db:"checkout_url"`
	CreatedAt   time.Time    `db:"created_at"`
	ExpiresAt   time.Time    `db:"expires_at"`
	ConsumedAt  sql.NullTime `db:"consumed_at"`
}

func (r paymentIntentRow) toEntity() entity.PaymentIntent {
	return entity.PaymentIntent{
		SessionRef:  r.SessionRef,
		BookingID:   r.BookingID,
		Amount:      r.Amount,
		Currency:    r.Currency,
		CheckoutURL: r.CheckoutURL,
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
		ConsumedAt:  timePtr(r.ConsumedAt),
	}
}

func (r PaymentIntentsRepository) SavePaymentIntent(ctx context.Context, intent entity.PaymentIntent) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO payment_intents (session_ref, booking_id, amount, currency, checkout_url, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_ref) DO NOTHING`,
		intent.SessionRef, intent.BookingID, intent.Amount, intent.Currency, intent.CheckoutURL,
		intent.CreatedAt, intent.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("could not save payment intent: %w", err)
	}

	return nil
}

func (r PaymentIntentsRepository) GetPaymentIntent(ctx context.Context, sessionRef string) (entity.PaymentIntent, error) {
	var row paymentIntentRow
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &row, `SELECT * FROM payment_intents WHERE session_ref = $1`, sessionRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.PaymentIntent{}, fmt.Errorf("%w: payment intent %s", entity.ErrNotFound, sessionRef)
		}
		return entity.PaymentIntent{}, fmt.Errorf("could not get payment intent: %w", err)
	}

	return row.toEntity(), nil
}

// GetLatestPaymentIntent returns the newest intent of a booking.
func (r PaymentIntentsRepository) GetLatestPaymentIntent(ctx context.Context, bookingID string) (entity.PaymentIntent, error) {
	var row paymentIntentRow
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &row, `
		SELECT * FROM payment_intents
		WHERE booking_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		bookingID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return entity.PaymentIntent{}, fmt.Errorf("%w: payment intent of booking %s", entity.ErrNotFound, bookingID)
		}
		return entity.PaymentIntent{}, fmt.Errorf("could not get payment intent: %w", err)
	}

	return row.toEntity(), nil
}

// ListOpenPaymentIntents returns the unconsumed intents of a booking,
// newest first.
func (r PaymentIntentsRepository) ListOpenPaymentIntents(ctx context.Context, bookingID string) ([]entity.PaymentIntent, error) {
	var rows []paymentIntentRow
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &rows, `
		SELECT * FROM payment_intents
		WHERE booking_id = $1 AND consumed_at IS NULL
		ORDER BY created_at DESC`,
		bookingID,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not list payment intents: %w", err)
	}

	intents := make([]entity.PaymentIntent, 0, len(rows))
	for _, row := range rows {
		intents = append(intents, row.toEntity())
	}
	return intents, nil
}

// ConsumePaymentIntent marks the intent consumed. It returns false when it
// was consumed before.
func (r PaymentIntentsRepository) ConsumePaymentIntent(ctx context.Context, sessionRef string, at time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE payment_intents SET consumed_at = $2
		WHERE session_ref = $1 AND consumed_at IS NULL`,
		sessionRef, at,
	)
	if err != nil {
		return false, fmt.Errorf("could not consume payment intent: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("could not get affected rows: %w", err)
	}

	return affected == 1, nil
}
