package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

	GetUnit(ctx context.Context, unitID string) (entity.Unit, error)

	GetBooking(ctx context.Context, bookingID string) (entity.Booking, error)
	GetBookingForUpdate(ctx context.Context, bookingID string) (entity.Booking, error)
	UpdateBooking(ctx context.Context, booking entity.Booking) error

	SavePaymentIntent(ctx context.Context, intent entity.PaymentIntent) error
	GetPaymentIntent(ctx context.Context, sessionRef string) (entity.PaymentIntent, error)
	GetLatestPaymentIntent(ctx context.Context, bookingID string) (entity.PaymentIntent, error)
	ListOpenPaymentIntents(ctx context.Context, bookingID string) ([]entity.PaymentIntent, error)
	ConsumePaymentIntent(ctx context.Context, sessionRef string, at time.Time) (bool, error)

	Publish(ctx context.Context, events ...any) error
}

type Gateway interface {
	CreateSession(ctx context.Context, request entity.CheckoutSessionRequest) (entity.CheckoutSession, error)
	GetSessionStatus(ctx context.Context, sessionRef string) (entity.SessionStatus, error)
}

type Config struct {
	// Timeout bounds a single gateway call.
	Timeout    time.Duration
	MaxRetries int
	// RetryInterval is the first backoff interval between gateway retries.
	RetryInterval time.Duration
	SessionTTL    time.Duration

	// SuccessURL and FailureURL may contain {booking_id}.
	SuccessURL string
	FailureURL string
}

// Coordinator bridges gateway checkout sessions to bookings. Every
// confirmation channel ends in Confirm, which only advances a booking when
// the gateway itself reports the session as paid with the booking's total.
type Coordinator struct {
	repo    Repository
	gateway Gateway
	clock   clock.Clock
	cfg     Config
}

func NewCoordinator(repo Repository, gateway Gateway, clk clock.Clock, cfg Config) *Coordinator {
	if repo == nil {
		panic("missing repo")
	}
	if gateway == nil {
		panic("missing gateway")
	}
	if clk == nil {
		panic("missing clock")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	return &Coordinator{repo: repo, gateway: gateway, clock: clk, cfg: cfg}
}

type Checkout struct {
	CheckoutURL string    `json:"checkout_url"`
	SessionRef  string    `json:"session_ref"`
	ExpiresAt   time.Time `json:"expires_at"`
	Reused      bool      `json:"reused"`
}

// BeginCheckout opens a gateway session for the booking's captured total.
// An open intent for the same amount is handed out again.
func (c *Coordinator) BeginCheckout(ctx context.Context, user entity.User, bookingID string) (Checkout, error) {
	booking, err := c.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return Checkout{}, err
	}
	if !booking.OwnedBy(user) {
		return Checkout{}, fmt.Errorf("%w: booking %s", entity.ErrForbidden, bookingID)
	}

	unit, err := c.repo.GetUnit(ctx, booking.UnitID)
	if err != nil {
		return Checkout{}, err
	}

	now := c.clock.Now()
	if err := booking.Payable(unit, now); err != nil {
		return Checkout{}, err
	}

	intent, err := c.repo.GetLatestPaymentIntent(ctx, booking.ID)
	switch {
	case err == nil && intent.Reusable(booking.Total, now):
		return Checkout{
			CheckoutURL: intent.CheckoutURL,
			SessionRef:  intent.SessionRef,
			ExpiresAt:   intent.ExpiresAt,
			Reused:      true,
		}, nil
	case err != nil && !errors.Is(err, entity.ErrNotFound):
		return Checkout{}, err
	}

	request := entity.CheckoutSessionRequest{
		BookingID:   booking.ID,
		Amount:      booking.Total,
		Currency:    booking.Currency,
		Description: fmt.Sprintf("%s x%d", unit.Title, booking.Quantity),
		SuccessURL:  withBookingID(c.cfg.SuccessURL, booking.ID),
		CancelURL:   withBookingID(c.cfg.FailureURL, booking.ID),
		Duration:    c.cfg.SessionTTL,
	}

	var session entity.CheckoutSession
	err = c.callGateway(ctx, c.cfg.MaxRetries, func(ctx context.Context) error {
		var err error
		session, err = c.gateway.CreateSession(ctx, request)
		return err
	})
	if err != nil {
		log.FromContext(ctx).WithError(err).WithField("booking_id", booking.ID).Error("Could not create checkout session")
		return Checkout{}, fmt.Errorf("could not create checkout session: %w", err)
	}

	expiresAt := session.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(c.cfg.SessionTTL)
	}

	err = c.repo.SavePaymentIntent(ctx, entity.PaymentIntent{
		SessionRef:  session.SessionRef,
		BookingID:   booking.ID,
		Amount:      booking.Total,
		Currency:    booking.Currency,
		CheckoutURL: session.RedirectURL,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return Checkout{}, fmt.Errorf("could not save payment intent: %w", err)
	}

	log.FromContext(ctx).WithFields(logrus.Fields{
		"booking_id":  booking.ID,
		"session_ref": session.SessionRef,
		"amount":      booking.Total,
	}).Info("Checkout started")

	return Checkout{
		CheckoutURL: session.RedirectURL,
		SessionRef:  session.SessionRef,
		ExpiresAt:   expiresAt,
	}, nil
}

type ConfirmInput struct {
	BookingID string
	// SessionRef may be empty, every open intent of the booking is checked then.
	SessionRef string
	Source     entity.ConfirmSource
	// User is checked for ownership when set. Gateway driven sources leave it nil.
	User *entity.User
}

// Confirm reconciles a checkout session with its booking. It is safe to call
// any number of times from any channel: only the first call that observes a
// paid session with a matching amount moves the booking to paid.
func (c *Coordinator) Confirm(ctx context.Context, in ConfirmInput) (entity.ConfirmResult, error) {
	retries := c.cfg.MaxRetries
	if in.Source == entity.ConfirmSourcePoll {
		retries = 0
	}

	result, err := c.confirm(ctx, in, retries)
	metrics.PaymentConfirmations.WithLabelValues(string(in.Source), confirmOutcome(result, err)).Inc()

	logger := log.FromContext(ctx).WithFields(logrus.Fields{
		"booking_id":  in.BookingID,
		"session_ref": in.SessionRef,
		"source":      in.Source,
	})
	switch {
	case err == nil:
		logger.WithField("result", result).Info("Payment confirmation handled")
	case errors.Is(err, entity.ErrAmountMismatch):
		logger.WithError(err).Error("Payment amount does not match booking total")
	case errors.Is(err, entity.ErrGatewayUnavailable):
		logger.WithError(err).Error("Payment gateway unavailable")
	default:
		logger.WithError(err).Warn("Payment confirmation rejected")
	}

	return result, err
}

func (c *Coordinator) confirm(ctx context.Context, in ConfirmInput, retries int) (entity.ConfirmResult, error) {
	booking, err := c.repo.GetBooking(ctx, in.BookingID)
	if err != nil {
		return "", err
	}
	if in.User != nil && !booking.OwnedBy(*in.User) {
		return "", fmt.Errorf("%w: booking %s", entity.ErrForbidden, in.BookingID)
	}

	if booking.IsPaid() {
		if in.SessionRef == "" || booking.PaymentRef == in.SessionRef {
			return entity.ConfirmResultAlreadyConfirmed, nil
		}
		return "", fmt.Errorf("%w: booking %s was paid by another session", entity.ErrSessionMismatch, booking.ID)
	}
	if booking.IsCancelled() {
		return "", fmt.Errorf("%w: booking %s is cancelled", entity.ErrInvalidTransition, booking.ID)
	}

	intents, err := c.intents(ctx, booking.ID, in.SessionRef)
	if err != nil {
		return "", err
	}

	var (
		intent entity.PaymentIntent
		errs   []error
	)
	for _, candidate := range intents {
		if err := c.checkSession(ctx, booking, candidate, retries); err != nil {
			errs = append(errs, err)
			continue
		}
		intent = candidate
		break
	}
	if intent.SessionRef == "" {
		return "", mostSevere(errs)
	}

	result := entity.ConfirmResultConfirmed
	err = c.repo.WithTx(ctx, func(ctx context.Context) error {
		booking, err := c.repo.GetBookingForUpdate(ctx, in.BookingID)
		if err != nil {
			return err
		}

		unit, err := c.repo.GetUnit(ctx, booking.UnitID)
		if err != nil {
			return err
		}

		now := c.clock.Now()
		changed, err := booking.MarkPaid(unit, intent.SessionRef, uuid.NewString(), now)
		if err != nil {
			return err
		}
		if !changed {
			if booking.PaymentRef != intent.SessionRef {
				return fmt.Errorf("%w: booking %s was paid by another session", entity.ErrSessionMismatch, booking.ID)
			}
			result = entity.ConfirmResultAlreadyConfirmed
			return nil
		}

		if err := c.repo.UpdateBooking(ctx, booking); err != nil {
			return err
		}
		if _, err := c.repo.ConsumePaymentIntent(ctx, intent.SessionRef, now); err != nil {
			return err
		}

		err = c.repo.Publish(ctx, entity.BookingPaid{
			Header:     entity.NewEventHeaderWithIdempotencyKey(booking.ID),
			BookingID:  booking.ID,
			UserID:     booking.UserID,
			UnitID:     booking.UnitID,
			Quantity:   booking.Quantity,
			Total:      booking.Total,
			Currency:   booking.Currency,
			SessionRef: intent.SessionRef,
			PaidAt:     now,
		})
		if err != nil {
			return fmt.Errorf("could not publish BookingPaid: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("could not mark booking as paid: %w", err)
	}

	return result, nil
}

// checkSession asks the gateway whether intent was paid with the booking's
// total.
func (c *Coordinator) checkSession(ctx context.Context, booking entity.Booking, intent entity.PaymentIntent, retries int) error {
	var status entity.SessionStatus
	err := c.callGateway(ctx, retries, func(ctx context.Context) error {
		var err error
		status, err = c.gateway.GetSessionStatus(ctx, intent.SessionRef)
		return err
	})
	if err != nil {
		return fmt.Errorf("could not get session status: %w", err)
	}

	if !status.Paid {
		return fmt.Errorf("%w: session %s", entity.ErrPaymentPending, intent.SessionRef)
	}
	if status.AmountReceived != booking.Total || status.AmountReceived != intent.Amount {
		return fmt.Errorf(
			"%w: gateway reported %d, booking total is %d",
			entity.ErrAmountMismatch, status.AmountReceived, booking.Total,
		)
	}
	return nil
}

// intents resolves the sessions a confirmation looks at. Without a session
// ref all open intents are candidates, since a repeated checkout may leave
// more than one session the customer could have paid.
func (c *Coordinator) intents(ctx context.Context, bookingID, sessionRef string) ([]entity.PaymentIntent, error) {
	if sessionRef == "" {
		intents, err := c.repo.ListOpenPaymentIntents(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if len(intents) == 0 {
			return nil, fmt.Errorf("%w: checkout was not started for booking %s", entity.ErrSessionMismatch, bookingID)
		}
		return intents, nil
	}

	intent, err := c.repo.GetPaymentIntent(ctx, sessionRef)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown session %s", entity.ErrSessionMismatch, sessionRef)
	}
	if err != nil {
		return nil, err
	}
	if intent.BookingID != bookingID {
		return nil, fmt.Errorf("%w: session %s belongs to another booking", entity.ErrSessionMismatch, sessionRef)
	}

	return []entity.PaymentIntent{intent}, nil
}

// mostSevere picks the error reported when no session was paid: an amount
// mismatch outranks an unreachable gateway, which outranks a pending payment.
func mostSevere(errs []error) error {
	for _, target := range []error{entity.ErrAmountMismatch, entity.ErrGatewayUnavailable} {
		for _, err := range errs {
			if errors.Is(err, target) {
				return err
			}
		}
	}
	return errs[0]
}

type StatusView struct {
	Booking         entity.Booking
	EffectiveStatus string
	// Confirming is set while a started checkout is still waiting for the
	// gateway to report a completed payment.
	Confirming bool
}

// Status serves the poll channel: for a pending booking with an open intent
// it makes one confirmation attempt before reporting.
func (c *Coordinator) Status(ctx context.Context, user entity.User, bookingID string) (StatusView, error) {
	booking, err := c.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return StatusView{}, err
	}

	unit, err := c.repo.GetUnit(ctx, booking.UnitID)
	if err != nil {
		return StatusView{}, err
	}
	if !booking.OwnedBy(user) && !user.CanManage(unit) {
		return StatusView{}, fmt.Errorf("%w: booking %s", entity.ErrForbidden, bookingID)
	}

	view := StatusView{Booking: booking}

	if booking.IsPending() && !booking.IsExpired(unit, c.clock.Now()) {
		intents, err := c.repo.ListOpenPaymentIntents(ctx, booking.ID)
		if err != nil {
			return StatusView{}, err
		}
		if len(intents) > 0 {
			_, err := c.Confirm(ctx, ConfirmInput{
				BookingID: booking.ID,
				Source:    entity.ConfirmSourcePoll,
			})
			if err != nil {
				view.Confirming = Retriable(err)
			} else if view.Booking, err = c.repo.GetBooking(ctx, booking.ID); err != nil {
				return StatusView{}, err
			}
		}
	}

	view.EffectiveStatus = view.Booking.EffectiveStatus(unit, c.clock.Now())
	return view, nil
}

// Retriable reports whether a confirmation may still succeed later.
func Retriable(err error) bool {
	return errors.Is(err, entity.ErrGatewayUnavailable) || errors.Is(err, entity.ErrPaymentPending)
}

func confirmOutcome(result entity.ConfirmResult, err error) string {
	switch {
	case err == nil:
		return string(result)
	case errors.Is(err, entity.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, entity.ErrSessionMismatch):
		return "session_mismatch"
	case errors.Is(err, entity.ErrPaymentPending):
		return "pending"
	case errors.Is(err, entity.ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, entity.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}

func withBookingID(url, bookingID string) string {
	return strings.ReplaceAll(url, "{booking_id}", bookingID)
}
