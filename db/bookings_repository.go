package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"venue/entity"
)

type BookingsRepository struct {
	db *sqlx.DB
}

func NewBookingsRepository(db *sqlx.DB) BookingsRepository {
	if db == nil {
		panic("missing db")
	}

	return BookingsRepository{db: db}
}

type bookingRow struct {
	BookingID        string       `db:"booking_id"`
	UserID           string       `db:"user_id"`
	UnitID           string       `db:"unit_id"`
	Quantity         int          `db:"quantity"`
	Items            string       `db:"items"`
	UnitPrices       string       `db:"unit_prices"`
	DiscountPercent  int          `db:"discount_percent"`
	TotalAmount      int64        `db:"total_amount"`
	Currency         string       `db:"currency"`
	Status           string       `db:"status"`
	PaymentStatus    string       `db:"payment_status"`
	CancelReason     string       `db:"cancel_reason"`
	CapacityReleased bool         `db:"capacity_released"`
	PaymentRef       string       `db:"payment_ref"`
	TicketNonce      string       `db:"ticket_nonce"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
	PaidAt           sql.NullTime `db:"paid_at"`
	CancelledAt      sql.NullTime `db:"cancelled_at"`
}

func newBookingRow(b entity.Booking) (bookingRow, error) {
	items, err := json.Marshal(b.Items)
	if err != nil {
		return bookingRow{}, fmt.Errorf("could not marshal items: %w", err)
	}
	prices, err := json.Marshal(b.UnitPrices)
	if err != nil {
		return bookingRow{}, fmt.Errorf("could not marshal unit prices: %w", err)
	}

	return bookingRow{
		BookingID:        b.ID,
		UserID:           b.UserID,
		UnitID:           b.UnitID,
		Quantity:         b.Quantity,
		Items:            string(items),
		UnitPrices:       string(prices),
		DiscountPercent:  b.DiscountPercent,
		TotalAmount:      b.Total,
		Currency:         b.Currency,
		Status:           string(b.Status),
		PaymentStatus:    string(b.PaymentStatus),
		CancelReason:     string(b.CancelReason),
		CapacityReleased: b.CapacityReleased,
		PaymentRef:       b.PaymentRef,
		TicketNonce:      b.TicketNonce,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
		PaidAt:           nullTime(b.PaidAt),
		CancelledAt:      nullTime(b.CancelledAt),
	}, nil
}

func (r bookingRow) toEntity() (entity.Booking, error) {
	var items map[string]int
	if err := json.Unmarshal([]byte(r.Items), &items); err != nil {
		return entity.Booking{}, fmt.Errorf("could not unmarshal items of booking %s: %w", r.BookingID, err)
	}
	var prices map[string]int64
	if err := json.Unmarshal([]byte(r.UnitPrices), &prices); err != nil {
		return entity.Booking{}, fmt.Errorf("could not unmarshal prices of booking %s: %w", r.BookingID, err)
	}

	return entity.Booking{
		ID:               r.BookingID,
		UserID:           r.UserID,
		UnitID:           r.UnitID,
		Quantity:         r.Quantity,
		Items:            items,
		UnitPrices:       prices,
		DiscountPercent:  r.DiscountPercent,
		Total:            r.TotalAmount,
		Currency:         r.Currency,
		Status:           entity.BookingStatus(r.Status),
		PaymentStatus:    entity.PaymentStatus(r.PaymentStatus),
		CancelReason:     entity.CancelReason(r.CancelReason),
		CapacityReleased: r.CapacityReleased,
		PaymentRef:       r.PaymentRef,
		TicketNonce:      r.TicketNonce,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		PaidAt:           timePtr(r.PaidAt),
		CancelledAt:      timePtr(r.CancelledAt),
	}, nil
}

func (r BookingsRepository) CreateBooking(ctx context.Context, booking entity.Booking) error {
	row, err := newBookingRow(booking)
	if err != nil {
		return err
	}

	_, err = sqlx.NamedExecContext(ctx, conn(ctx, r.db), `
		INSERT INTO bookings (
			booking_id, user_id, unit_id, quantity, items, unit_prices, discount_percent, total_amount, currency,
			status, payment_status, cancel_reason, capacity_released, payment_ref, ticket_nonce,
			created_at, updated_at, paid_at, cancelled_at
		) VALUES (
			:booking_id, :user_id, :unit_id, :quantity, CAST(:items AS JSONB), CAST(:unit_prices AS JSONB),
			:discount_percent, :total_amount, :currency, :status, :payment_status, :cancel_reason,
			:capacity_released, :payment_ref, :ticket_nonce, :created_at, :updated_at, :paid_at, :cancelled_at
		)`, row)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: booking %s already exists", entity.ErrConflict, booking.ID)
		}
		return fmt.Errorf("could not insert booking: %w", err)
	}

	return nil
}

func (r BookingsRepository) GetBooking(ctx context.Context, bookingID string) (entity.Booking, error) {
	return r.get(ctx, `SELECT * FROM bookings WHERE booking_id = $1`, bookingID)
}

// GetBookingForUpdate locks the booking row until the surrounding
// transaction ends. It must be called inside WithTx.
func (r BookingsRepository) GetBookingForUpdate(ctx context.Context, bookingID string) (entity.Booking, error) {
	if txFromContext(ctx) == nil {
		return entity.Booking{}, fmt.Errorf("GetBookingForUpdate called outside of a transaction")
	}
	return r.get(ctx, `SELECT * FROM bookings WHERE booking_id = $1 FOR UPDATE`, bookingID)
}

func (r BookingsRepository) get(ctx context.Context, query string, bookingID string) (entity.Booking, error) {
	var row bookingRow
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &row, query, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return entity.Booking{}, fmt.Errorf("%w: booking %s", entity.ErrNotFound, bookingID)
		}
		return entity.Booking{}, fmt.Errorf("could not get booking: %w", err)
	}

	return row.toEntity()
}

// UpdateBooking writes the mutable lifecycle fields. Quantity, prices and
// total are never rewritten.
func (r BookingsRepository) UpdateBooking(ctx context.Context, booking entity.Booking) error {
	row, err := newBookingRow(booking)
	if err != nil {
		return err
	}

	res, err := sqlx.NamedExecContext(ctx, conn(ctx, r.db), `
		UPDATE bookings SET
			status = :status,
			payment_status = :payment_status,
			cancel_reason = :cancel_reason,
			capacity_released = :capacity_released,
			payment_ref = :payment_ref,
			ticket_nonce = :ticket_nonce,
			updated_at = :updated_at,
			paid_at = :paid_at,
			cancelled_at = :cancelled_at
		WHERE booking_id = :booking_id`, row)
	if err != nil {
		return fmt.Errorf("could not update booking: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: booking %s", entity.ErrNotFound, booking.ID)
	}

	return nil
}

func (r BookingsRepository) ListBookingsByUser(ctx context.Context, userID string) ([]entity.Booking, error) {
	var rows []bookingRow
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &rows, `
		SELECT * FROM bookings WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("could not list bookings: %w", err)
	}

	bookings := make([]entity.Booking, 0, len(rows))
	for _, row := range rows {
		b, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}

	return bookings, nil
}

// ListExpiredBookings returns ids of pending bookings whose unit ended
// before now.
func (r BookingsRepository) ListExpiredBookings(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, conn(ctx, r.db), &ids, `
		SELECT b.booking_id
		FROM bookings b
		JOIN units u ON u.unit_id = b.unit_id
		WHERE b.status = 'pending' AND b.payment_status = 'pending' AND u.valid_until <= $1
		ORDER BY b.created_at
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("could not list expired bookings: %w", err)
	}

	return ids, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
