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

type UnitsRepository struct {
	db *sqlx.DB
}

func NewUnitsRepository(db *sqlx.DB) UnitsRepository {
	if db == nil {
		panic("missing db")
	}

	return UnitsRepository{db: db}
}

type unitRow struct {
	UnitID          string    `db:"unit_id"`
	Kind            string    `db:"kind"`
	Title           string    `db:"title"`
	ManagerID       string    `db:"manager_id"`
	ProductID       string    `db:"product_id"`
	ValidDay        string    `db:"valid_day"`
	ValidFrom       time.Time `db:"valid_from"`
	ValidUntil      time.Time `db:"valid_until"`
	Prices          []byte    `db:"prices"`
	DiscountPercent int       `db:"discount_percent"`
	Currency        string    `db:"currency"`
	Capacity        int       `db:"capacity"`
	Status          string    `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r unitRow) toEntity() (entity.Unit, error) {
	var prices map[string]int64
	if err := json.Unmarshal(r.Prices, &prices); err != nil {
		return entity.Unit{}, fmt.Errorf("could not unmarshal prices of unit %s: %w", r.UnitID, err)
	}

	return entity.Unit{
		ID:              r.UnitID,
		Kind:            entity.UnitKind(r.Kind),
		Title:           r.Title,
		ManagerID:       r.ManagerID,
		ProductID:       r.ProductID,
		Day:             r.ValidDay,
		ValidFrom:       r.ValidFrom.UTC(),
		ValidUntil:      r.ValidUntil.UTC(),
		Prices:          prices,
		DiscountPercent: r.DiscountPercent,
		Currency:        r.Currency,
		Capacity:        r.Capacity,
		Status:          entity.UnitStatus(r.Status),
		CreatedAt:       r.CreatedAt.UTC(),
	}, nil
}

// CreateUnit stores the unit together with its ledger row.
func (r UnitsRepository) CreateUnit(ctx context.Context, unit entity.Unit) error {
	prices, err := json.Marshal(unit.Prices)
	if err != nil {
		return fmt.Errorf("could not marshal prices: %w", err)
	}

	return NewTransactor(r.db).WithTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.db)

		_, err := q.ExecContext(ctx, `
			INSERT INTO units (
				unit_id, kind, title, manager_id, product_id, valid_day, valid_from, valid_until,
				prices, discount_percent, currency, capacity, status, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			unit.ID, unit.Kind, unit.Title, unit.ManagerID, unit.ProductID, unit.Day, unit.ValidFrom, unit.ValidUntil,
			string(prices), unit.DiscountPercent, unit.Currency, unit.Capacity, unit.Status, unit.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: unit already exists", entity.ErrConflict)
			}
			return fmt.Errorf("could not insert unit: %w", err)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO unit_ledger (unit_id, capacity, reserved) VALUES ($1, $2, 0)`,
			unit.ID, unit.Capacity,
		)
		if err != nil {
			return fmt.Errorf("could not insert ledger row: %w", err)
		}

		return nil
	})
}

func (r UnitsRepository) GetUnit(ctx context.Context, unitID string) (entity.Unit, error) {
	var row unitRow
	err := sqlx.GetContext(ctx, conn(ctx, r.db), &row, `SELECT * FROM units WHERE unit_id = $1`, unitID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return entity.Unit{}, fmt.Errorf("%w: unit %s", entity.ErrNotFound, unitID)
		}
		return entity.Unit{}, fmt.Errorf("could not get unit: %w", err)
	}

	return row.toEntity()
}
