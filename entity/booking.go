package entity

import (
	"fmt"
	"time"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusBooked    BookingStatus = "booked"
	BookingStatusCancelled BookingStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

type CancelReason string

const (
	CancelReasonUser    CancelReason = "user"
	CancelReasonAdmin   CancelReason = "admin"
	CancelReasonExpired CancelReason = "expired"
)

// EffectiveStatusExpired is reported for pending bookings whose unit has
// ended but which the sweeper has not cancelled yet.
const EffectiveStatusExpired = "expired"

type Booking struct {
	ID               string           `json:"booking_id"`
	UserID           string           `json:"user_id"`
	UnitID           string           `json:"unit_id"`
	Quantity         int              `json:"quantity"`
	Items            map[string]int   `json:"items"`
	UnitPrices       map[string]int64 `json:"unit_prices"`
	DiscountPercent  int              `json:"discount_percent"`
	Total            int64            `json:"total"`
	Currency         string           `json:"currency"`
	Status           BookingStatus    `json:"status"`
	PaymentStatus    PaymentStatus    `json:"payment_status"`
	CancelReason     CancelReason     `json:"cancel_reason,omitempty"`
	CapacityReleased bool             `json:"capacity_released"`
	PaymentRef       string           `json:"payment_ref,omitempty"`
	TicketNonce      string           `json:"-"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	CancelledAt      *time.Time       `json:"cancelled_at,omitempty"`
}

// NewBooking captures the unit's prices at creation time. Capacity must be
// reserved by the caller in the same transaction.
func NewBooking(id, userID string, unit Unit, quantity int, items map[string]int, now time.Time) (Booking, error) {
	if userID == "" {
		return Booking{}, fmt.Errorf("missing user")
	}
	if err := unit.Bookable(now); err != nil {
		return Booking{}, err
	}

	resolved, qty, err := unit.ResolveItems(quantity, items)
	if err != nil {
		return Booking{}, err
	}

	prices := make(map[string]int64, len(resolved))
	for category := range resolved {
		prices[category] = unit.Prices[category]
	}

	return Booking{
		ID:              id,
		UserID:          userID,
		UnitID:          unit.ID,
		Quantity:        qty,
		Items:           resolved,
		UnitPrices:      prices,
		DiscountPercent: unit.DiscountPercent,
		Total:           unit.Total(resolved),
		Currency:        unit.Currency,
		Status:          BookingStatusPending,
		PaymentStatus:   PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (b Booking) IsPaid() bool {
	return b.PaymentStatus == PaymentStatusPaid
}

func (b Booking) IsCancelled() bool {
	return b.Status == BookingStatusCancelled
}

func (b Booking) IsPending() bool {
	return b.Status == BookingStatusPending && b.PaymentStatus == PaymentStatusPending
}

// IsExpired reports whether a pending booking outlived its unit.
func (b Booking) IsExpired(unit Unit, now time.Time) bool {
	return b.IsPending() && unit.Ended(now)
}

func (b Booking) EffectiveStatus(unit Unit, now time.Time) string {
	if b.IsExpired(unit, now) {
		return EffectiveStatusExpired
	}
	return string(b.Status)
}

// HoldsCapacity reports whether the booking still counts against the ledger.
func (b Booking) HoldsCapacity() bool {
	return !b.IsCancelled() || !b.CapacityReleased
}

func (b Booking) OwnedBy(user User) bool {
	return user.ID != "" && b.UserID == user.ID
}

// Cancel is the user path: only an unpaid booking can be cancelled, and its
// reservation is always released.
func (b *Booking) Cancel(now time.Time) error {
	if !b.IsPending() {
		return fmt.Errorf("%w: cannot cancel booking %s in %s/%s", ErrInvalidTransition, b.ID, b.Status, b.PaymentStatus)
	}
	b.cancel(CancelReasonUser, true, now)
	return nil
}

// AdminCancel cancels pending or paid bookings. Pending bookings always
// release capacity; paid ones release only when releasePaid is set. It
// returns whether capacity has to be credited back.
func (b *Booking) AdminCancel(releasePaid bool, now time.Time) (bool, error) {
	if b.IsCancelled() {
		return false, fmt.Errorf("%w: booking %s is already cancelled", ErrInvalidTransition, b.ID)
	}
	release := !b.IsPaid() || releasePaid
	b.cancel(CancelReasonAdmin, release, now)
	return release, nil
}

// Expire cancels a pending booking whose unit has ended.
func (b *Booking) Expire(unit Unit, now time.Time) error {
	if !b.IsExpired(unit, now) {
		return fmt.Errorf("%w: booking %s is not expired", ErrInvalidTransition, b.ID)
	}
	b.cancel(CancelReasonExpired, true, now)
	return nil
}

func (b *Booking) cancel(reason CancelReason, release bool, now time.Time) {
	b.Status = BookingStatusCancelled
	b.CancelReason = reason
	b.CapacityReleased = release
	b.CancelledAt = &now
	b.UpdatedAt = now
}

// MarkPaid moves a pending booking to booked/paid. It returns false without
// error when the booking is already paid, so repeated confirmations are
// no-ops.
func (b *Booking) MarkPaid(unit Unit, sessionRef, ticketNonce string, now time.Time) (bool, error) {
	if b.IsPaid() {
		return false, nil
	}
	if b.IsCancelled() {
		return false, fmt.Errorf("%w: booking %s is cancelled", ErrInvalidTransition, b.ID)
	}
	if b.IsExpired(unit, now) {
		return false, fmt.Errorf("%w: booking %s has expired", ErrInvalidTransition, b.ID)
	}

	b.Status = BookingStatusBooked
	b.PaymentStatus = PaymentStatusPaid
	b.PaymentRef = sessionRef
	b.TicketNonce = ticketNonce
	b.PaidAt = &now
	b.UpdatedAt = now
	return true, nil
}

// Payable checks that checkout may begin for the booking.
func (b Booking) Payable(unit Unit, now time.Time) error {
	if b.IsPaid() {
		return fmt.Errorf("%w: booking %s", ErrAlreadyPaid, b.ID)
	}
	if b.IsCancelled() {
		return fmt.Errorf("%w: booking %s is cancelled", ErrInvalidTransition, b.ID)
	}
	if b.IsExpired(unit, now) {
		return fmt.Errorf("%w: booking %s has expired", ErrInvalidTransition, b.ID)
	}
	if b.Total <= 0 {
		return fmt.Errorf("%w: total is %d", ErrInvalidAmount, b.Total)
	}
	return nil
}
