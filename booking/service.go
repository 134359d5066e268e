package booking

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"venue/clock"
	"venue/entity"
	"venue/metrics"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateUnit(ctx context.Context, unit entity.Unit) error
	GetUnit(ctx context.Context, unitID string) (entity.Unit, error)

	Reserve(ctx context.Context, unitID string, qty int) (int, error)
	Release(ctx context.Context, unitID string, qty int) (int, error)
	Remaining(ctx context.Context, unitID string) (int, error)

	CreateBooking(ctx context.Context, booking entity.Booking) error
	GetBooking(ctx context.Context, bookingID string) (entity.Booking, error)
	GetBookingForUpdate(ctx context.Context, bookingID string) (entity.Booking, error)
	UpdateBooking(ctx context.Context, booking entity.Booking) error
	ListBookingsByUser(ctx context.Context, userID string) ([]entity.Booking, error)
	ListExpiredBookings(ctx context.Context, now time.Time, limit int) ([]string, error)

	Publish(ctx context.Context, events ...any) error
}

type Config struct {
	// AdminCancelReleasesCapacity decides whether administratively cancelled
	// paid bookings give their seats back.
	AdminCancelReleasesCapacity bool
	MaxTicketsPerBooking        int
	Location                    *time.Location
	Currency                    string
}

type Service struct {
	repo  Repository
	clock clock.Clock
	cfg   Config
}

func NewService(repo Repository, clk clock.Clock, cfg Config) *Service {
	if repo == nil {
		panic("missing repo")
	}
	if clk == nil {
		panic("missing clock")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Service{repo: repo, clock: clk, cfg: cfg}
}

var idempotencyNamespace = uuid.MustParse("8c4c3f5e-2f0b-4d4e-9a57-1f1d2b6f7e10")

type CreateInput struct {
	User           entity.User
	UnitID         string
	Quantity       int
	Items          map[string]int
	ExpectedTotal  *int64
	IdempotencyKey string
}

type Created struct {
	Booking   entity.Booking
	Remaining int
	// Replayed is set when the idempotency key matched an earlier booking.
	Replayed bool
}

// Create reserves capacity and stores a pending booking in one
// transaction. A denied reservation leaves nothing behind and reports the
// remaining capacity.
func (s *Service) Create(ctx context.Context, in CreateInput) (Created, error) {
	now := s.clock.Now()

	bookingID := uuid.NewString()
	if in.IdempotencyKey != "" {
		bookingID = uuid.NewSHA1(idempotencyNamespace, []byte(in.User.ID+"/"+in.IdempotencyKey)).String()
	}

	if in.IdempotencyKey != "" {
		_, err := s.repo.GetBooking(ctx, bookingID)
		if err == nil {
			return s.replay(ctx, bookingID, in)
		}
		if !errors.Is(err, entity.ErrNotFound) {
			return Created{}, fmt.Errorf("could not look up idempotency key: %w", err)
		}
	}

	var (
		created Created
		kind    entity.UnitKind
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		unit, err := s.repo.GetUnit(ctx, in.UnitID)
		if err != nil {
			return err
		}

		booking, err := entity.NewBooking(bookingID, in.User.ID, unit, in.Quantity, in.Items, now)
		if err != nil {
			return err
		}
		if s.cfg.MaxTicketsPerBooking > 0 && booking.Quantity > s.cfg.MaxTicketsPerBooking {
			return fmt.Errorf("%w: at most %d tickets per booking", entity.ErrInvalidQuantity, s.cfg.MaxTicketsPerBooking)
		}
		if in.ExpectedTotal != nil && *in.ExpectedTotal != booking.Total {
			return fmt.Errorf("%w: expected %d, current total is %d", entity.ErrPriceChanged, *in.ExpectedTotal, booking.Total)
		}

		remaining, err := s.repo.Reserve(ctx, unit.ID, booking.Quantity)
		if err != nil {
			return err
		}

		if err := s.repo.CreateBooking(ctx, booking); err != nil {
			return err
		}

		err = s.repo.Publish(ctx, entity.BookingCreated{
			Header:    entity.NewEventHeaderWithIdempotencyKey(booking.ID),
			BookingID: booking.ID,
			UserID:    booking.UserID,
			UnitID:    booking.UnitID,
			Quantity:  booking.Quantity,
			Items:     booking.Items,
			Total:     booking.Total,
			Currency:  booking.Currency,
		})
		if err != nil {
			return fmt.Errorf("could not publish BookingCreated: %w", err)
		}

		created = Created{Booking: booking, Remaining: remaining}
		kind = unit.Kind
		return nil
	})
	if err != nil {
		if in.IdempotencyKey != "" && errors.Is(err, entity.ErrConflict) {
			return s.replay(ctx, bookingID, in)
		}
		metrics.BookingsRejected.WithLabelValues(rejectReason(err)).Inc()
		return Created{}, fmt.Errorf("could not create booking: %w", err)
	}
	metrics.BookingsCreated.WithLabelValues(string(kind)).Inc()

	log.FromContext(ctx).WithFields(logrus.Fields{
		"booking_id": created.Booking.ID,
		"unit_id":    created.Booking.UnitID,
		"quantity":   created.Booking.Quantity,
		"remaining":  created.Remaining,
	}).Info("Booking created")

	return created, nil
}

// replay returns the booking an idempotency key already created. A key
// reused for a different request is a conflict.
func (s *Service) replay(ctx context.Context, bookingID string, in CreateInput) (Created, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return Created{}, fmt.Errorf("could not get replayed booking: %w", err)
	}
	if !booking.OwnedBy(in.User) {
		return Created{}, entity.ErrForbidden
	}

	if booking.UnitID != in.UnitID {
		return Created{}, fmt.Errorf("%w: idempotency key was used for another unit", entity.ErrConflict)
	}
	unit, err := s.repo.GetUnit(ctx, booking.UnitID)
	if err != nil {
		return Created{}, err
	}
	items, _, err := unit.ResolveItems(in.Quantity, in.Items)
	if err != nil || !maps.Equal(items, booking.Items) {
		return Created{}, fmt.Errorf("%w: idempotency key was used for other items", entity.ErrConflict)
	}

	remaining, err := s.repo.Remaining(ctx, booking.UnitID)
	if err != nil {
		return Created{}, err
	}

	return Created{Booking: booking, Remaining: remaining, Replayed: true}, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, entity.ErrInsufficientCapacity):
		return "insufficient_capacity"
	case errors.Is(err, entity.ErrUnitNotBookable):
		return "unit_not_bookable"
	case errors.Is(err, entity.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, entity.ErrPriceChanged):
		return "price_changed"
	case errors.Is(err, entity.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

type View struct {
	Booking         entity.Booking
	Unit            entity.Unit
	EffectiveStatus string
}

func (s *Service) Get(ctx context.Context, user entity.User, bookingID string) (View, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return View{}, err
	}

	unit, err := s.repo.GetUnit(ctx, booking.UnitID)
	if err != nil {
		return View{}, err
	}

	if !booking.OwnedBy(user) && !user.CanManage(unit) {
		return View{}, fmt.Errorf("%w: booking %s", entity.ErrForbidden, bookingID)
	}

	return View{
		Booking:         booking,
		Unit:            unit,
		EffectiveStatus: booking.EffectiveStatus(unit, s.clock.Now()),
	}, nil
}

func (s *Service) List(ctx context.Context, user entity.User) ([]entity.Booking, error) {
	return s.repo.ListBookingsByUser(ctx, user.ID)
}

// Cancel is the owner's cancellation. The status is re-read under the
// booking's row lock, so a confirmation racing with it either wins before
// (and the cancel fails) or loses after.
func (s *Service) Cancel(ctx context.Context, user entity.User, bookingID string) (entity.Booking, error) {
	var cancelled entity.Booking

	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		booking, err := s.repo.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !booking.OwnedBy(user) {
			return fmt.Errorf("%w: booking %s", entity.ErrForbidden, bookingID)
		}

		if err := booking.Cancel(s.clock.Now()); err != nil {
			return err
		}

		cancelled = booking
		return s.storeCancellation(ctx, booking, false)
	})
	if err != nil {
		return entity.Booking{}, fmt.Errorf("could not cancel booking: %w", err)
	}

	log.FromContext(ctx).WithField("booking_id", bookingID).Info("Booking cancelled by user")
	return cancelled, nil
}

type AdminCancelInput struct {
	User      entity.User
	BookingID string
	// ReleaseCapacity overrides the configured policy for paid bookings.
	ReleaseCapacity *bool
}

func (s *Service) AdminCancel(ctx context.Context, in AdminCancelInput) (entity.Booking, error) {
	releasePaid := s.cfg.AdminCancelReleasesCapacity
	if in.ReleaseCapacity != nil {
		releasePaid = *in.ReleaseCapacity
	}

	var cancelled entity.Booking

	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		booking, err := s.repo.GetBookingForUpdate(ctx, in.BookingID)
		if err != nil {
			return err
		}

		unit, err := s.repo.GetUnit(ctx, booking.UnitID)
		if err != nil {
			return err
		}
		if !in.User.CanManage(unit) {
			return fmt.Errorf("%w: booking %s", entity.ErrForbidden, in.BookingID)
		}

		wasPaid := booking.IsPaid()
		if _, err := booking.AdminCancel(releasePaid, s.clock.Now()); err != nil {
			return err
		}

		cancelled = booking
		return s.storeCancellation(ctx, booking, wasPaid)
	})
	if err != nil {
		return entity.Booking{}, fmt.Errorf("could not cancel booking: %w", err)
	}

	log.FromContext(ctx).WithFields(logrus.Fields{
		"booking_id":        in.BookingID,
		"capacity_released": cancelled.CapacityReleased,
		"admin":             in.User.ID,
	}).Info("Booking cancelled by administrator")

	return cancelled, nil
}

// Expire cancels one booking whose unit has ended while it was pending. It
// returns false when the booking no longer qualifies.
func (s *Service) Expire(ctx context.Context, bookingID string) (bool, error) {
	now := s.clock.Now()
	expired := false

	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		booking, err := s.repo.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}

		unit, err := s.repo.GetUnit(ctx, booking.UnitID)
		if err != nil {
			return err
		}
		if !booking.IsExpired(unit, now) {
			return nil
		}

		if err := booking.Expire(unit, now); err != nil {
			return err
		}

		expired = true
		return s.storeCancellation(ctx, booking, false)
	})
	if err != nil {
		return false, fmt.Errorf("could not expire booking %s: %w", bookingID, err)
	}

	return expired, nil
}

// ExpireDue expires up to limit overdue bookings.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	ids, err := s.repo.ListExpiredBookings(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}

	var errs []error
	count := 0
	for _, id := range ids {
		expired, err := s.Expire(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if expired {
			count++
			log.FromContext(ctx).WithField("booking_id", id).Info("Booking expired")
		}
	}

	return count, errors.Join(errs...)
}

func (s *Service) storeCancellation(ctx context.Context, booking entity.Booking, wasPaid bool) error {
	if err := s.repo.UpdateBooking(ctx, booking); err != nil {
		return err
	}

	if !booking.HoldsCapacity() {
		if _, err := s.repo.Release(ctx, booking.UnitID, booking.Quantity); err != nil {
			return err
		}
	}

	err := s.repo.Publish(ctx, entity.BookingCancelled{
		Header:           entity.NewEventHeaderWithIdempotencyKey(booking.ID),
		BookingID:        booking.ID,
		UnitID:           booking.UnitID,
		Quantity:         booking.Quantity,
		Reason:           booking.CancelReason,
		WasPaid:          wasPaid,
		CapacityReleased: booking.CapacityReleased,
	})
	if err != nil {
		return fmt.Errorf("could not publish BookingCancelled: %w", err)
	}

	metrics.BookingsCancelled.WithLabelValues(string(booking.CancelReason)).Inc()
	return nil
}

func (s *Service) Remaining(ctx context.Context, unitID string) (int, error) {
	return s.repo.Remaining(ctx, unitID)
}
