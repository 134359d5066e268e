package db

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"venue/entity"
)

func newTestUnit(t *testing.T, capacity int) entity.Unit {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	unit := entity.Unit{
		ID:         uuid.NewString(),
		Kind:       entity.UnitKindEvent,
		Title:      "Evening concert",
		ManagerID:  "manager-1",
		ValidFrom:  now.Add(24 * time.Hour),
		ValidUntil: now.Add(27 * time.Hour),
		Prices:     map[string]int64{"standard": 2500, "vip": 9000},
		Currency:   "IDR",
		Capacity:   capacity,
		Status:     entity.UnitStatusActive,
		CreatedAt:  now,
	}

	err := NewUnitsRepository(GetDb(t)).CreateUnit(context.Background(), unit)
	require.NoError(t, err)

	return unit
}

func TestLedger_Reserve(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(GetDb(t))
	unit := newTestUnit(t, 5)

	remaining, err := ledger.Reserve(ctx, unit.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	remaining, err = ledger.Reserve(ctx, unit.ID, 3)
	var capacityErr entity.InsufficientCapacityError
	require.ErrorAs(t, err, &capacityErr)
	assert.Equal(t, 2, capacityErr.Remaining)
	assert.Equal(t, 2, remaining)

	remaining, err = ledger.Reserve(ctx, unit.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = ledger.Reserve(ctx, unit.ID, 0)
	assert.ErrorIs(t, err, entity.ErrInvalidQuantity)

	_, err = ledger.Reserve(ctx, uuid.NewString(), 1)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestLedger_Release(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(GetDb(t))
	unit := newTestUnit(t, 4)

	_, err := ledger.Reserve(ctx, unit.ID, 3)
	require.NoError(t, err)

	remaining, err := ledger.Release(ctx, unit.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)

	remaining, err = ledger.Release(ctx, unit.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining, "reserved never goes below zero")

	_, err = ledger.Release(ctx, "not-a-uuid", 1)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestLedger_Reserve_concurrent(t *testing.T) {
	const (
		capacity = 10
		callers  = 50
	)

	ctx := context.Background()
	ledger := NewLedger(GetDb(t))
	unit := newTestUnit(t, capacity)
	other := newTestUnit(t, capacity)

	var granted, denied atomic.Int32

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := ledger.Reserve(ctx, unit.ID, 1)
			var capacityErr entity.InsufficientCapacityError
			switch {
			case err == nil:
				granted.Add(1)
			case errors.As(err, &capacityErr):
				denied.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, capacity, granted.Load())
	assert.EqualValues(t, callers-capacity, denied.Load())

	remaining, err := ledger.Remaining(context.Background(), unit.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	remaining, err = ledger.Remaining(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity, remaining, "other units are not affected")
}

func TestLedger_Reserve_rolledBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := GetDb(t)
	ledger := NewLedger(db)
	unit := newTestUnit(t, 3)

	errAbort := errors.New("abort")
	err := NewTransactor(db).WithTx(ctx, func(ctx context.Context) error {
		_, err := ledger.Reserve(ctx, unit.ID, 3)
		require.NoError(t, err)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	remaining, err := ledger.Remaining(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}
