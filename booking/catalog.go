package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"venue/entity"
)

type CreateUnitInput struct {
	User            entity.User
	Kind            entity.UnitKind
	Title           string
	ManagerID       string
	ProductID       string
	Day             string
	StartsAt        time.Time
	EndsAt          time.Time
	Prices          map[string]int64
	DiscountPercent int
	Currency        string
	Capacity        int
}

// CreateUnit registers a bookable unit and opens its ledger. Managers own
// the units they create; admins may assign another manager.
func (s *Service) CreateUnit(ctx context.Context, in CreateUnitInput) (entity.Unit, error) {
	if in.User.Role != entity.RoleManager && !in.User.IsAdmin() {
		return entity.Unit{}, fmt.Errorf("%w: only managers can create units", entity.ErrForbidden)
	}

	managerID := in.User.ID
	if in.User.IsAdmin() && in.ManagerID != "" {
		managerID = in.ManagerID
	}

	currency := in.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}

	unit := entity.Unit{
		ID:              uuid.NewString(),
		Kind:            in.Kind,
		Title:           in.Title,
		ManagerID:       managerID,
		Prices:          in.Prices,
		DiscountPercent: in.DiscountPercent,
		Currency:        currency,
		Capacity:        in.Capacity,
		Status:          entity.UnitStatusActive,
		CreatedAt:       s.clock.Now(),
	}

	switch in.Kind {
	case entity.UnitKindEvent:
		unit.ValidFrom = in.StartsAt.UTC()
		unit.ValidUntil = in.EndsAt.UTC()
	case entity.UnitKindDayPass:
		from, until, err := entity.DayWindow(in.Day, s.cfg.Location)
		if err != nil {
			return entity.Unit{}, fmt.Errorf("%w: %s", ErrInvalidUnit, err)
		}
		unit.ProductID = in.ProductID
		unit.Day = in.Day
		unit.ValidFrom = from
		unit.ValidUntil = until
	}

	if err := unit.Validate(); err != nil {
		return entity.Unit{}, fmt.Errorf("%w: %s", ErrInvalidUnit, err)
	}

	if err := s.repo.CreateUnit(ctx, unit); err != nil {
		return entity.Unit{}, fmt.Errorf("could not create unit: %w", err)
	}

	log.FromContext(ctx).WithFields(logrus.Fields{
		"unit_id":  unit.ID,
		"kind":     unit.Kind,
		"capacity": unit.Capacity,
	}).Info("Unit created")

	return unit, nil
}

type UnitView struct {
	Unit      entity.Unit
	Remaining int
}

func (s *Service) GetUnit(ctx context.Context, unitID string) (UnitView, error) {
	unit, err := s.repo.GetUnit(ctx, unitID)
	if err != nil {
		return UnitView{}, err
	}

	remaining, err := s.repo.Remaining(ctx, unitID)
	if err != nil {
		return UnitView{}, err
	}
	if unit.Status != entity.UnitStatusActive {
		remaining = 0
	}

	return UnitView{Unit: unit, Remaining: remaining}, nil
}
