package booking_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"venue/booking"
	"venue/clock"
	"venue/db/memory"
	"venue/entity"
)

var (
	now     = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	manager = entity.User{ID: "manager-1", Role: entity.RoleManager}
	alice   = entity.User{ID: "alice", Role: entity.RoleCustomer}
	bob     = entity.User{ID: "bob", Role: entity.RoleCustomer}
)

func newService(t *testing.T, cfg booking.Config) (*booking.Service, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	return booking.NewService(store, clock.NewFixed(now), cfg), store
}

func createEvent(t *testing.T, svc *booking.Service, capacity int, prices map[string]int64) entity.Unit {
	t.Helper()

	unit, err := svc.CreateUnit(context.Background(), booking.CreateUnitInput{
		User:     manager,
		Kind:     entity.UnitKindEvent,
		Title:    "Concert",
		StartsAt: now.Add(48 * time.Hour),
		EndsAt:   now.Add(51 * time.Hour),
		Prices:   prices,
		Currency: "IDR",
		Capacity: capacity,
	})
	require.NoError(t, err)
	return unit
}

func markPaid(t *testing.T, store *memory.Store, unit entity.Unit, bookingID string) {
	t.Helper()

	err := store.WithTx(context.Background(), func(ctx context.Context) error {
		b, err := store.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if _, err := b.MarkPaid(unit, "session-1", "nonce-1", now); err != nil {
			return err
		}
		return store.UpdateBooking(ctx, b)
	})
	require.NoError(t, err)
}

func TestService_Create_capacityScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, booking.Config{})
	unit := createEvent(t, svc, 2, map[string]int64{"standard": 2500})

	a, err := svc.Create(ctx, booking.CreateInput{User: alice, UnitID: unit.ID, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, a.Remaining)
	assert.Equal(t, int64(5000), a.Booking.Total)
	assert.Equal(t, entity.BookingStatusPending, a.Booking.Status)
	assert.Equal(t, entity.PaymentStatusPending, a.Booking.PaymentStatus)

	_, err = svc.Create(ctx, booking.CreateInput{User: bob, UnitID: unit.ID, Quantity: 1})
	require.ErrorIs(t, err, entity.ErrInsufficientCapacity)
	remaining, ok := entity.RemainingFromError(err)
	require.True(t, ok)
	assert.Equal(t, 0, remaining)

	_, err = svc.Cancel(ctx, alice, a.Booking.ID)
	require.NoError(t, err)

	remaining, err = svc.Remaining(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	b, err := svc.Create(ctx, booking.CreateInput{User: bob, UnitID: unit.ID, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Remaining)
}

func TestService_Create_concurrentLastSeats(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, booking.Config{})

	const capacity = 10
	unit := createEvent(t, svc, capacity, map[string]int64{"standard": 1000})

	var succeeded, rejected atomic.Int32
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < capacity+1; i++ {
		user := entity.User{ID: lo.RandomString(8, lo.LettersCharset), Role: entity.RoleCustomer}
		g.Go(func() error {
			_, err := svc.Create(ctx, booking.CreateInput{User: user, UnitID: unit.ID, Quantity: 1})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, entity.ErrInsufficientCapacity):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, capacity, succeeded.Load())
	assert.EqualValues(t, 1, rejected.Load())
	assert.Equal(t, capacity, store.Reserved(unit.ID))
}

func TestService_Create_validation(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, booking.Config{MaxTicketsPerBooking: 4})
	unit := createEvent(t, svc, 10, map[string]int64{"adult": 5000, "child": 2500})

	t.Run("items are priced per category", func(t *testing.T) {
		created, err := svc.Create(ctx, booking.CreateInput{
			User:   alice,
			UnitID: unit.ID,
			Items:  map[string]int{"adult": 2, "child": 1},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, created.Booking.Quantity)
		assert.Equal(t, int64(12500), created.Booking.Total)
		assert.Equal(t, map[string]int64{"adult": 5000, "child": 2500}, created.Booking.UnitPrices)
	})

	t.Run("bare quantity needs a single category", func(t *testing.T) {
		_, err := svc.Create(ctx, booking.CreateInput{User: alice, UnitID: unit.ID, Quantity: 1})
		assert.ErrorIs(t, err, entity.ErrInvalidQuantity)
	})

	t.Run("too many tickets", func(t *testing.T) {
		_, err := svc.Create(ctx, booking.CreateInput{User: alice, UnitID: unit.ID, Items: map[string]int{"adult": 5}})
		assert.ErrorIs(t, err, entity.ErrInvalidQuantity)
	})

	t.Run("stale client total reserves nothing", func(t *testing.T) {
		before := store.Reserved(unit.ID)
		_, err := svc.Create(ctx, booking.CreateInput{
			User:          alice,
			UnitID:        unit.ID,
			Items:         map[string]int{"adult": 1},
			ExpectedTotal: lo.ToPtr(int64(4000)),
		})
		assert.ErrorIs(t, err, entity.ErrPriceChanged)
		assert.Equal(t, before, store.Reserved(unit.ID))
	})

	t.Run("unknown unit", func(t *testing.T) {
		_, err := svc.Create(ctx, booking.CreateInput{User: alice, UnitID: "missing", Quantity: 1})
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})
}

func TestService_Create_idempotencyKey(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, booking.Config{})
	unit := createEvent(t, svc, 5, map[string]int64{"standard": 1000})

	in := booking.CreateInput{User: alice, UnitID: unit.ID, Quantity: 2, IdempotencyKey: "key-1"}

	first, err := svc.Create(ctx, in)
	require.NoError(t, err)
	second, err := svc.Create(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.Booking.ID, second.Booking.ID)
	assert.True(t, second.Replayed)
	assert.Equal(t, 2, store.Reserved(unit.ID))

	other := createEvent(t, svc, 5, map[string]int64{"standard": 1000})

	t.Run("same key for another request", func(t *testing.T) {
		for name, mismatch := range map[string]booking.CreateInput{
			"quantity": {User: alice, UnitID: unit.ID, Quantity: 3, IdempotencyKey: "key-1"},
			"unit":     {User: alice, UnitID: other.ID, Quantity: 2, IdempotencyKey: "key-1"},
			"items":    {User: alice, UnitID: unit.ID, Items: map[string]int{"vip": 2}, IdempotencyKey: "key-1"},
		} {
			_, err := svc.Create(ctx, mismatch)
			assert.ErrorIs(t, err, entity.ErrConflict, name)
		}
		assert.Equal(t, 2, store.Reserved(unit.ID))
		assert.Equal(t, 0, store.Reserved(other.ID))
	})

	t.Run("replayed after the unit sold out", func(t *testing.T) {
		_, err := svc.Create(ctx, booking.CreateInput{User: bob, UnitID: unit.ID, Quantity: 3})
		require.NoError(t, err)

		replayed, err := svc.Create(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, first.Booking.ID, replayed.Booking.ID)
		assert.Equal(t, 0, replayed.Remaining)
	})

	t.Run("same key from another user", func(t *testing.T) {
		created, err := svc.Create(ctx, booking.CreateInput{User: bob, UnitID: other.ID, Quantity: 1, IdempotencyKey: "key-1"})
		require.NoError(t, err)
		assert.NotEqual(t, first.Booking.ID, created.Booking.ID)
		assert.False(t, created.Replayed)
	})
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, booking.Config{})
	unit := createEvent(t, svc, 5, map[string]int64{"standard": 1000})

	created, err := svc.Create(ctx, booking.CreateInput{User: alice, UnitID: unit.ID, Quantity: 2})
	require.NoError(t, err)

	t.Run("other users cannot cancel", func(t *testing.T) {
		_, err := svc.Cancel(ctx, bob, created.Booking.ID)
		assert.ErrorIs(t, err, entity.ErrForbidden)
	})

	t.Run("paid booking cannot be cancelled by its owner", func(t *testing.T) {
		markPaid(t, store, unit, created.Booking.ID)

		_, err := svc.Cancel(ctx, alice, created.Booking.ID)
		assert.ErrorIs(t, err, entity.ErrInvalidTransition)
		assert.Equal(t, 2, store.Reserved(unit.ID))
	})

	events := store.Events()
	_, found := lo.Find(events, func(e any) bool {
		_, ok := e.(entity.BookingCancelled)
		return ok
	})
	assert.False(t, found)
}

func TestService_AdminCancel(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name            string
		policy          bool
		override        *bool
		expectedRelease bool
	}{
		{name: "default keeps paid seats", policy: false, expectedRelease: false},
		{name: "policy releases paid seats", policy: true, expectedRelease: true},
		{name: "request overrides policy", policy: false, override: lo.ToPtr(true), expectedRelease: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := newService(t, booking.Config{AdminCancelReleasesCapacity: tc.policy})
			unit := createEvent(t, svc, 5, map[string]int64{"standard": 1000})

			created, err := svc.Create(ctx, booking.CreateInput{User: alice, UnitID: unit.ID, Quantity: 3})
			require.NoError(t, err)
			markPaid(t, store, unit, created.Booking.ID)

			_, err = svc.AdminCancel(ctx, booking.AdminCancelInput{User: bob, BookingID: created.Booking.ID})
			require.ErrorIs(t, err, entity.ErrForbidden)

			cancelled, err := svc.AdminCancel(ctx, booking.AdminCancelInput{
				User:            manager,
				BookingID:       created.Booking.ID,
				ReleaseCapacity: tc.override,
			})
			require.NoError(t, err)
			assert.Equal(t, entity.BookingStatusCancelled, cancelled.Status)
			assert.Equal(t, entity.PaymentStatusPaid, cancelled.PaymentStatus)
			assert.Equal(t, tc.expectedRelease, cancelled.CapacityReleased)
			assert.Equal(t, !tc.expectedRelease, cancelled.HoldsCapacity())

			expectedReserved := 3
			if tc.expectedRelease {
				expectedReserved = 0
			}
			assert.Equal(t, expectedReserved, store.Reserved(unit.ID))

			_, err = svc.AdminCancel(ctx, booking.AdminCancelInput{User: manager, BookingID: created.Booking.ID})
			assert.ErrorIs(t, err, entity.ErrInvalidTransition)
		})
	}
}

func TestService_ExpireDue(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := booking.NewService(store, clock.NewFixed(now), booking.Config{})
	unit := createEvent(t, svc, 5, map[string]int64{"standard": 1000})

	pending, err := svc.Create(ctx, booking.CreateInput{User: alice, UnitID: unit.ID, Quantity: 2})
	require.NoError(t, err)
	paid, err := svc.Create(ctx, booking.CreateInput{User: bob, UnitID: unit.ID, Quantity: 1})
	require.NoError(t, err)
	markPaid(t, store, unit, paid.Booking.ID)

	later := booking.NewService(store, clock.NewFixed(unit.ValidUntil.Add(time.Minute)), booking.Config{})

	view, err := later.Get(ctx, alice, pending.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.EffectiveStatusExpired, view.EffectiveStatus)

	swept := booking.NewSweeper(later, time.Minute).Sweep(ctx)
	assert.Equal(t, 1, swept)

	view, err = later.Get(ctx, alice, pending.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusCancelled, view.Booking.Status)
	assert.Equal(t, entity.CancelReasonExpired, view.Booking.CancelReason)
	assert.Equal(t, 1, store.Reserved(unit.ID))

	view, err = later.Get(ctx, bob, paid.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, string(entity.BookingStatusBooked), view.EffectiveStatus)
}

func TestService_CreateUnit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, booking.Config{Location: time.UTC, Currency: "IDR"})

	in := booking.CreateUnitInput{
		User:      manager,
		Kind:      entity.UnitKindDayPass,
		Title:     "Museum entry",
		ProductID: "museum",
		Day:       "2026-05-11",
		Prices:    map[string]int64{"adult": 50000, "child": 25000},
		Capacity:  100,
	}

	unit, err := svc.CreateUnit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC), unit.ValidFrom)
	assert.Equal(t, time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC), unit.ValidUntil)
	assert.Equal(t, "IDR", unit.Currency)
	assert.Equal(t, manager.ID, unit.ManagerID)

	_, err = svc.CreateUnit(ctx, in)
	assert.ErrorIs(t, err, entity.ErrConflict)

	in.User = alice
	_, err = svc.CreateUnit(ctx, in)
	assert.ErrorIs(t, err, entity.ErrForbidden)

	view, err := svc.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, view.Remaining)
}
