package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"venue/entity"
)

// Ledger keeps a reserved counter per unit. Reservations are a single
// conditional UPDATE, so the row lock serializes concurrent callers of the
// same unit and leaves other units untouched.
type Ledger struct {
	db *sqlx.DB
}

func NewLedger(db *sqlx.DB) Ledger {
	if db == nil {
		panic("missing db")
	}

	return Ledger{db: db}
}

func (l Ledger) Reserve(ctx context.Context, unitID string, qty int) (int, error) {
	if qty < 1 {
		return 0, fmt.Errorf("%w: cannot reserve %d", entity.ErrInvalidQuantity, qty)
	}

	var remaining int
	err := sqlx.GetContext(ctx, conn(ctx, l.db), &remaining, `
		UPDATE unit_ledger
		SET reserved = reserved + $2
		WHERE unit_id = $1 AND reserved + $2 <= capacity
		RETURNING capacity - reserved`,
		unitID, qty,
	)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("could not reserve capacity: %w", err)
	}

	remaining, err = l.Remaining(ctx, unitID)
	if err != nil {
		return 0, err
	}

	return remaining, entity.InsufficientCapacityError{Remaining: remaining}
}

// Release credits qty back, never going below zero reserved.
func (l Ledger) Release(ctx context.Context, unitID string, qty int) (int, error) {
	var remaining int
	err := sqlx.GetContext(ctx, conn(ctx, l.db), &remaining, `
		UPDATE unit_ledger
		SET reserved = GREATEST(reserved - $2, 0)
		WHERE unit_id = $1
		RETURNING capacity - reserved`,
		unitID, qty,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return 0, fmt.Errorf("%w: ledger of unit %s", entity.ErrNotFound, unitID)
		}
		return 0, fmt.Errorf("could not release capacity: %w", err)
	}

	return remaining, nil
}

func (l Ledger) Remaining(ctx context.Context, unitID string) (int, error) {
	var remaining int
	err := sqlx.GetContext(ctx, conn(ctx, l.db), &remaining, `
		SELECT capacity - reserved FROM unit_ledger WHERE unit_id = $1`,
		unitID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return 0, fmt.Errorf("%w: ledger of unit %s", entity.ErrNotFound, unitID)
		}
		return 0, fmt.Errorf("could not get remaining capacity: %w", err)
	}

	return remaining, nil
}
