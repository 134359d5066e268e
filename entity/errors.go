package entity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrConflict             = errors.New("conflict")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrInvalidTransition    = errors.New("invalid booking transition")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrUnitNotBookable      = errors.New("unit is not bookable")
	ErrPriceChanged         = errors.New("price changed")
	ErrAlreadyPaid          = errors.New("booking already paid")
	ErrInvalidAmount        = errors.New("booking amount is not payable")
	ErrAmountMismatch       = errors.New("paid amount does not match booking total")
	ErrSessionMismatch      = errors.New("checkout session does not belong to booking")
	ErrPaymentPending       = errors.New("payment not completed yet")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrNotPaid              = errors.New("booking not paid")
	ErrTokenInvalid         = errors.New("ticket token invalid")
	ErrAlreadyRedeemed      = errors.New("ticket already redeemed")
)

// InsufficientCapacityError carries how many units were still free when a
// reservation was denied.
type InsufficientCapacityError struct {
	Remaining int
}

func (e InsufficientCapacityError) Error() string {
	return fmt.Sprintf("%s: %d remaining", ErrInsufficientCapacity, e.Remaining)
}

func (e InsufficientCapacityError) Is(target error) bool {
	return target == ErrInsufficientCapacity
}

// RemainingFromError returns the remaining capacity reported by a denied
// reservation.
func RemainingFromError(err error) (int, bool) {
	var capErr InsufficientCapacityError
	if errors.As(err, &capErr) {
		return capErr.Remaining, true
	}
	return 0, false
}
