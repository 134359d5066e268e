package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"venue/booking"
	"venue/entity"
)

type errorResponse struct {
	Error     string `json:"error"`
	Remaining *int   `json:"remaining,omitempty"`
}

// respondError writes domain errors as client errors. Anything else goes to
// the echo error handler as an internal error.
func respondError(c echo.Context, err error) error {
	status := statusFor(err)
	if status == 0 {
		return err
	}

	resp := errorResponse{Error: err.Error()}
	if remaining, ok := entity.RemainingFromError(err); ok {
		resp.Remaining = &remaining
	}

	return c.JSON(status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrInsufficientCapacity),
		errors.Is(err, entity.ErrInvalidTransition),
		errors.Is(err, entity.ErrAlreadyPaid),
		errors.Is(err, entity.ErrPriceChanged),
		errors.Is(err, entity.ErrAlreadyRedeemed),
		errors.Is(err, entity.ErrNotPaid),
		errors.Is(err, entity.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, entity.ErrAmountMismatch),
		errors.Is(err, entity.ErrSessionMismatch):
		return http.StatusPaymentRequired
	case errors.Is(err, entity.ErrInvalidQuantity),
		errors.Is(err, entity.ErrInvalidAmount),
		errors.Is(err, entity.ErrUnitNotBookable),
		errors.Is(err, booking.ErrInvalidUnit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, entity.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, entity.ErrPaymentPending):
		return http.StatusAccepted
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, entity.ErrTokenInvalid):
		return http.StatusBadRequest
	}
	return 0
}
