package entity

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
)

type UnitKind string

const (
	UnitKindEvent   UnitKind = "event"
	UnitKindDayPass UnitKind = "day_pass"
)

type UnitStatus string

const (
	UnitStatusActive    UnitStatus = "active"
	UnitStatusCancelled UnitStatus = "cancelled"
)

const DayLayout = "2006-01-02"

// Unit is a bookable resource: an event occurrence or one day of an entry
// product. ValidFrom/ValidUntil is the half-open validity window.
type Unit struct {
	ID              string           `json:"unit_id"`
	Kind            UnitKind         `json:"kind"`
	Title           string           `json:"title"`
	ManagerID       string           `json:"manager_id"`
	ProductID       string           `json:"product_id,omitempty"`
	Day             string           `json:"day,omitempty"`
	ValidFrom       time.Time        `json:"valid_from"`
	ValidUntil      time.Time        `json:"valid_until"`
	Prices          map[string]int64 `json:"prices"`
	DiscountPercent int              `json:"discount_percent"`
	Currency        string           `json:"currency"`
	Capacity        int              `json:"capacity"`
	Status          UnitStatus       `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
}

// DayWindow returns the [start, end) instants of a calendar day in loc.
func DayWindow(day string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DayLayout, day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return start.UTC(), start.AddDate(0, 0, 1).UTC(), nil
}

func (u Unit) Validate() error {
	switch u.Kind {
	case UnitKindEvent:
	case UnitKindDayPass:
		if u.ProductID == "" || u.Day == "" {
			return fmt.Errorf("day pass unit needs product and day")
		}
	default:
		return fmt.Errorf("unknown unit kind %q", u.Kind)
	}
	if u.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}
	if !u.ValidUntil.After(u.ValidFrom) {
		return fmt.Errorf("validity window is empty")
	}
	if len(u.Prices) == 0 {
		return fmt.Errorf("at least one price category is required")
	}
	for category, price := range u.Prices {
		if price < 0 {
			return fmt.Errorf("price of %q must not be negative", category)
		}
	}
	if u.DiscountPercent < 0 || u.DiscountPercent > 100 {
		return fmt.Errorf("discount must be within 0..100")
	}
	return nil
}

// Ended reports whether the validity window has passed.
func (u Unit) Ended(now time.Time) bool {
	return !now.Before(u.ValidUntil)
}

func (u Unit) Bookable(now time.Time) error {
	if u.Status != UnitStatusActive {
		return fmt.Errorf("%w: unit %s is %s", ErrUnitNotBookable, u.ID, u.Status)
	}
	if u.Ended(now) {
		return fmt.Errorf("%w: unit %s has ended", ErrUnitNotBookable, u.ID)
	}
	return nil
}

// Categories returns price categories in a stable order.
func (u Unit) Categories() []string {
	categories := lo.Keys(u.Prices)
	sort.Strings(categories)
	return categories
}

// ResolveItems turns a booking request into a category breakdown. A bare
// quantity is only accepted for single-category units.
func (u Unit) ResolveItems(quantity int, items map[string]int) (map[string]int, int, error) {
	if len(items) == 0 {
		if quantity < 1 {
			return nil, 0, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidQuantity)
		}
		if len(u.Prices) != 1 {
			return nil, 0, fmt.Errorf("%w: unit has several price categories, items are required", ErrInvalidQuantity)
		}
		return map[string]int{u.Categories()[0]: quantity}, quantity, nil
	}

	resolved := make(map[string]int, len(items))
	for category, count := range items {
		if _, ok := u.Prices[category]; !ok {
			return nil, 0, fmt.Errorf("%w: unknown category %q", ErrInvalidQuantity, category)
		}
		if count < 0 {
			return nil, 0, fmt.Errorf("%w: negative count for %q", ErrInvalidQuantity, category)
		}
		if count > 0 {
			resolved[category] = count
		}
	}

	sum := lo.Sum(lo.Values(resolved))
	if sum < 1 {
		return nil, 0, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidQuantity)
	}
	if quantity != 0 && quantity != sum {
		return nil, 0, fmt.Errorf("%w: items add up to %d, not %d", ErrInvalidQuantity, sum, quantity)
	}
	return resolved, sum, nil
}

// Total prices items with the unit's current prices and discount, rounding
// the discounted amount down.
func (u Unit) Total(items map[string]int) int64 {
	var gross int64
	for category, count := range items {
		gross += u.Prices[category] * int64(count)
	}
	return gross * int64(100-u.DiscountPercent) / 100
}
