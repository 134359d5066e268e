// Package memory keeps the booking engine state in process memory. It
// mirrors the Postgres store and is used where no database is available.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"venue/entity"
)

type txKey struct{}

type ledgerRow struct {
	capacity int
	reserved int
}

type state struct {
	units       map[string]entity.Unit
	ledger      map[string]ledgerRow
	bookings    map[string]entity.Booking
	intents     map[string]entity.PaymentIntent
	redemptions map[string]entity.Redemption
	events      []any
}

func (s state) clone() state {
	return state{
		units:       lo.Assign(s.units),
		ledger:      lo.Assign(s.ledger),
		bookings:    lo.Assign(s.bookings),
		intents:     lo.Assign(s.intents),
		redemptions: lo.Assign(s.redemptions),
		events:      append([]any(nil), s.events...),
	}
}

// Store serializes every transaction behind one mutex. A failed transaction
// restores the state it started from.
type Store struct {
	mu sync.Mutex
	st state
}

func NewStore() *Store {
	return &Store{
		st: state{
			units:       map[string]entity.Unit{},
			ledger:      map[string]ledgerRow{},
			bookings:    map[string]entity.Booking{},
			intents:     map[string]entity.PaymentIntent{},
			redemptions: map[string]entity.Redemption{},
		},
	}
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) CreateUnit(ctx context.Context, unit entity.Unit) error {
	defer s.lock(ctx)()

	if _, ok := s.st.units[unit.ID]; ok {
		return fmt.Errorf("%w: unit already exists", entity.ErrConflict)
	}
	if unit.Kind == entity.UnitKindDayPass {
		dup := false
		for _, u := range s.st.units {
			if u.Kind == entity.UnitKindDayPass && u.ProductID == unit.ProductID && u.Day == unit.Day {
				dup = true
			}
		}
		if dup {
			return fmt.Errorf("%w: unit already exists", entity.ErrConflict)
		}
	}

	s.st.units[unit.ID] = unit
	s.st.ledger[unit.ID] = ledgerRow{capacity: unit.Capacity}
	return nil
}

func (s *Store) GetUnit(ctx context.Context, unitID string) (entity.Unit, error) {
	defer s.lock(ctx)()

	unit, ok := s.st.units[unitID]
	if !ok {
		return entity.Unit{}, fmt.Errorf("%w: unit %s", entity.ErrNotFound, unitID)
	}
	return unit, nil
}

func (s *Store) Reserve(ctx context.Context, unitID string, qty int) (int, error) {
	defer s.lock(ctx)()

	if qty < 1 {
		return 0, fmt.Errorf("%w: cannot reserve %d", entity.ErrInvalidQuantity, qty)
	}
	row, ok := s.st.ledger[unitID]
	if !ok {
		return 0, fmt.Errorf("%w: ledger of unit %s", entity.ErrNotFound, unitID)
	}
	if row.reserved+qty > row.capacity {
		return row.capacity - row.reserved, entity.InsufficientCapacityError{Remaining: row.capacity - row.reserved}
	}

	row.reserved += qty
	s.st.ledger[unitID] = row
	return row.capacity - row.reserved, nil
}

func (s *Store) Release(ctx context.Context, unitID string, qty int) (int, error) {
	defer s.lock(ctx)()

	row, ok := s.st.ledger[unitID]
	if !ok {
		return 0, fmt.Errorf("%w: ledger of unit %s", entity.ErrNotFound, unitID)
	}

	row.reserved = lo.Max([]int{row.reserved - qty, 0})
	s.st.ledger[unitID] = row
	return row.capacity - row.reserved, nil
}

func (s *Store) Remaining(ctx context.Context, unitID string) (int, error) {
	defer s.lock(ctx)()

	row, ok := s.st.ledger[unitID]
	if !ok {
		return 0, fmt.Errorf("%w: ledger of unit %s", entity.ErrNotFound, unitID)
	}
	return row.capacity - row.reserved, nil
}

func (s *Store) CreateBooking(ctx context.Context, booking entity.Booking) error {
	defer s.lock(ctx)()

	if _, ok := s.st.bookings[booking.ID]; ok {
		return fmt.Errorf("%w: booking %s already exists", entity.ErrConflict, booking.ID)
	}
	if _, ok := s.st.units[booking.UnitID]; !ok {
		return fmt.Errorf("%w: unit %s", entity.ErrNotFound, booking.UnitID)
	}

	s.st.bookings[booking.ID] = booking
	return nil
}

func (s *Store) GetBooking(ctx context.Context, bookingID string) (entity.Booking, error) {
	defer s.lock(ctx)()

	booking, ok := s.st.bookings[bookingID]
	if !ok {
		return entity.Booking{}, fmt.Errorf("%w: booking %s", entity.ErrNotFound, bookingID)
	}
	return booking, nil
}

func (s *Store) GetBookingForUpdate(ctx context.Context, bookingID string) (entity.Booking, error) {
	if !s.inTx(ctx) {
		return entity.Booking{}, fmt.Errorf("GetBookingForUpdate called outside of a transaction")
	}
	return s.GetBooking(ctx, bookingID)
}

func (s *Store) UpdateBooking(ctx context.Context, booking entity.Booking) error {
	defer s.lock(ctx)()

	existing, ok := s.st.bookings[booking.ID]
	if !ok {
		return fmt.Errorf("%w: booking %s", entity.ErrNotFound, booking.ID)
	}

	existing.Status = booking.Status
	existing.PaymentStatus = booking.PaymentStatus
	existing.CancelReason = booking.CancelReason
	existing.CapacityReleased = booking.CapacityReleased
	existing.PaymentRef = booking.PaymentRef
	existing.TicketNonce = booking.TicketNonce
	existing.UpdatedAt = booking.UpdatedAt
	existing.PaidAt = booking.PaidAt
	existing.CancelledAt = booking.CancelledAt
	s.st.bookings[booking.ID] = existing
	return nil
}

func (s *Store) ListBookingsByUser(ctx context.Context, userID string) ([]entity.Booking, error) {
	defer s.lock(ctx)()

	bookings := lo.Filter(lo.Values(s.st.bookings), func(b entity.Booking, _ int) bool {
		return b.UserID == userID
	})
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].CreatedAt.After(bookings[j].CreatedAt)
	})
	return bookings, nil
}

func (s *Store) ListExpiredBookings(ctx context.Context, now time.Time, limit int) ([]string, error) {
	defer s.lock(ctx)()

	expired := lo.Filter(lo.Values(s.st.bookings), func(b entity.Booking, _ int) bool {
		return b.IsExpired(s.st.units[b.UnitID], now)
	})
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return lo.Map(expired, func(b entity.Booking, _ int) string { return b.ID }), nil
}

func (s *Store) SavePaymentIntent(ctx context.Context, intent entity.PaymentIntent) error {
	defer s.lock(ctx)()

	if _, ok := s.st.intents[intent.SessionRef]; ok {
		return nil
	}
	s.st.intents[intent.SessionRef] = intent
	return nil
}

func (s *Store) GetPaymentIntent(ctx context.Context, sessionRef string) (entity.PaymentIntent, error) {
	defer s.lock(ctx)()

	intent, ok := s.st.intents[sessionRef]
	if !ok {
		return entity.PaymentIntent{}, fmt.Errorf("%w: payment intent %s", entity.ErrNotFound, sessionRef)
	}
	return intent, nil
}

func (s *Store) GetLatestPaymentIntent(ctx context.Context, bookingID string) (entity.PaymentIntent, error) {
	defer s.lock(ctx)()

	intents := lo.Filter(lo.Values(s.st.intents), func(i entity.PaymentIntent, _ int) bool {
		return i.BookingID == bookingID
	})
	if len(intents) == 0 {
		return entity.PaymentIntent{}, fmt.Errorf("%w: payment intent of booking %s", entity.ErrNotFound, bookingID)
	}
	return lo.MaxBy(intents, func(a, b entity.PaymentIntent) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}), nil
}

func (s *Store) ListOpenPaymentIntents(ctx context.Context, bookingID string) ([]entity.PaymentIntent, error) {
	defer s.lock(ctx)()

	intents := lo.Filter(lo.Values(s.st.intents), func(i entity.PaymentIntent, _ int) bool {
		return i.BookingID == bookingID && !i.Consumed()
	})
	sort.Slice(intents, func(i, j int) bool {
		return intents[i].CreatedAt.After(intents[j].CreatedAt)
	})
	return intents, nil
}

func (s *Store) ConsumePaymentIntent(ctx context.Context, sessionRef string, at time.Time) (bool, error) {
	defer s.lock(ctx)()

	intent, ok := s.st.intents[sessionRef]
	if !ok || intent.Consumed() {
		return false, nil
	}
	intent.ConsumedAt = &at
	s.st.intents[sessionRef] = intent
	return true, nil
}

func (s *Store) RecordRedemption(ctx context.Context, redemption entity.Redemption) error {
	defer s.lock(ctx)()

	if _, ok := s.st.redemptions[redemption.BookingID]; ok {
		return fmt.Errorf("%w: booking %s", entity.ErrAlreadyRedeemed, redemption.BookingID)
	}
	s.st.redemptions[redemption.BookingID] = redemption
	return nil
}

func (s *Store) GetRedemption(ctx context.Context, bookingID string) (entity.Redemption, error) {
	defer s.lock(ctx)()

	redemption, ok := s.st.redemptions[bookingID]
	if !ok {
		return entity.Redemption{}, fmt.Errorf("%w: redemption of booking %s", entity.ErrNotFound, bookingID)
	}
	return redemption, nil
}

// Publish records events; they are dropped with the rest of the state if
// the surrounding transaction fails.
func (s *Store) Publish(ctx context.Context, events ...any) error {
	defer s.lock(ctx)()

	s.st.events = append(s.st.events, events...)
	return nil
}

// Events returns everything published so far.
func (s *Store) Events() []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]any(nil), s.st.events...)
}

// Reserved returns the ledger counter of a unit.
func (s *Store) Reserved(unitID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.st.ledger[unitID].reserved
}
