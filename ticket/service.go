package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/sirupsen/logrus"

	"venue/clock"
	"venue/entity"
	"venue/metrics"
)

// Verification outcomes reported in entity.VerifyResult.Reason.
const (
	ReasonTokenInvalid    = "token_invalid"
	ReasonNotPaid         = "not_paid"
	ReasonCancelled       = "cancelled"
	ReasonNotYetValid     = "not_yet_valid"
	ReasonExpired         = "expired"
	ReasonAlreadyRedeemed = "already_redeemed"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetUnit(ctx context.Context, unitID string) (entity.Unit, error)
	GetBooking(ctx context.Context, bookingID string) (entity.Booking, error)

	RecordRedemption(ctx context.Context, redemption entity.Redemption) error

	Publish(ctx context.Context, events ...any) error
}

type Config struct {
	// SingleUse makes the first valid scan redeem the ticket.
	SingleUse bool
	// EarlyEntry and LateGrace widen the window of event tickets.
	EarlyEntry time.Duration
	LateGrace  time.Duration
}

type Service struct {
	repo   Repository
	signer Signer
	clock  clock.Clock
	cfg    Config
}

func NewService(repo Repository, signer Signer, clk clock.Clock, cfg Config) *Service {
	if repo == nil {
		panic("missing repo")
	}
	if signer.key == nil {
		panic("missing signer")
	}
	if clk == nil {
		panic("missing clock")
	}

	return &Service{repo: repo, signer: signer, clock: clk, cfg: cfg}
}

// Issue returns the token of a paid booking to its owner or to the unit's
// managers.
func (s *Service) Issue(ctx context.Context, user entity.User, bookingID string) (entity.TicketToken, error) {
	booking, unit, err := s.load(ctx, bookingID)
	if err != nil {
		return entity.TicketToken{}, err
	}
	if !booking.OwnedBy(user) && !user.CanManage(unit) {
		return entity.TicketToken{}, fmt.Errorf("%w: booking %s", entity.ErrForbidden, bookingID)
	}
	if booking.IsCancelled() {
		return entity.TicketToken{}, fmt.Errorf("%w: booking %s is cancelled", entity.ErrNotPaid, bookingID)
	}

	token, err := s.signer.Sign(booking, unit)
	if err != nil {
		return entity.TicketToken{}, err
	}

	return entity.TicketToken{BookingID: booking.ID, Token: token}, nil
}

// Verify checks a scanned token against the current booking state. Failed
// checks are reported in the result, the error is kept for failures to
// verify at all.
func (s *Service) Verify(ctx context.Context, user entity.User, token string) (entity.VerifyResult, error) {
	if !user.CanVerifyTickets() {
		return entity.VerifyResult{}, fmt.Errorf("%w: ticket verification", entity.ErrForbidden)
	}

	result, err := s.verify(ctx, user, token)
	if err != nil {
		return entity.VerifyResult{}, err
	}

	outcome := "valid"
	if !result.Valid {
		outcome = result.Reason
	}
	metrics.TicketVerifications.WithLabelValues(outcome).Inc()

	log.FromContext(ctx).WithFields(logrus.Fields{
		"booking_id": result.BookingID,
		"valid":      result.Valid,
		"reason":     result.Reason,
	}).Info("Ticket verified")

	return result, nil
}

func (s *Service) verify(ctx context.Context, user entity.User, token string) (entity.VerifyResult, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return entity.VerifyResult{Reason: ReasonTokenInvalid}, nil
	}

	booking, unit, err := s.load(ctx, claims.Subject)
	if errors.Is(err, entity.ErrNotFound) {
		return entity.VerifyResult{Reason: ReasonTokenInvalid}, nil
	}
	if err != nil {
		return entity.VerifyResult{}, err
	}

	result := entity.VerifyResult{BookingID: booking.ID, UnitID: unit.ID}

	switch {
	case claims.UnitID != booking.UnitID || claims.ID != booking.TicketNonce:
		result.Reason = ReasonTokenInvalid
		return result, nil
	case booking.IsCancelled():
		result.Reason = ReasonCancelled
		return result, nil
	case !booking.IsPaid():
		result.Reason = ReasonNotPaid
		return result, nil
	}

	now := s.clock.Now()
	if reason := s.checkWindow(unit, now); reason != "" {
		result.Reason = reason
		return result, nil
	}

	if s.cfg.SingleUse {
		err := s.redeem(ctx, booking, claims.ID, user, now)
		if errors.Is(err, entity.ErrAlreadyRedeemed) {
			result.Reason = ReasonAlreadyRedeemed
			return result, nil
		}
		if err != nil {
			return entity.VerifyResult{}, err
		}
	}

	result.Valid = true
	return result, nil
}

func (s *Service) checkWindow(unit entity.Unit, now time.Time) string {
	from, until := unit.ValidFrom, unit.ValidUntil
	if unit.Kind == entity.UnitKindEvent {
		from = from.Add(-s.cfg.EarlyEntry)
		until = until.Add(s.cfg.LateGrace)
	}

	switch {
	case now.Before(from):
		return ReasonNotYetValid
	case !now.Before(until):
		return ReasonExpired
	}
	return ""
}

func (s *Service) redeem(ctx context.Context, booking entity.Booking, tokenID string, user entity.User, now time.Time) error {
	return s.repo.WithTx(ctx, func(ctx context.Context) error {
		err := s.repo.RecordRedemption(ctx, entity.Redemption{
			BookingID:  booking.ID,
			TokenID:    tokenID,
			RedeemedAt: now,
			RedeemedBy: user.ID,
		})
		if err != nil {
			return err
		}

		return s.repo.Publish(ctx, entity.TicketRedeemed{
			Header:     entity.NewEventHeaderWithIdempotencyKey(booking.ID),
			BookingID:  booking.ID,
			UnitID:     booking.UnitID,
			RedeemedBy: user.ID,
			RedeemedAt: now,
		})
	})
}

func (s *Service) load(ctx context.Context, bookingID string) (entity.Booking, entity.Unit, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return entity.Booking{}, entity.Unit{}, err
	}

	unit, err := s.repo.GetUnit(ctx, booking.UnitID)
	if err != nil {
		return entity.Booking{}, entity.Unit{}, err
	}

	return booking, unit, nil
}
