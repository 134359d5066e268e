package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"venue/booking"
	"venue/entity"
)

type postBookingsRequest struct {
	UnitID        string         `json:"unit_id"`
	Quantity      int            `json:"quantity"`
	Items         map[string]int `json:"items"`
	ExpectedTotal *int64         `json:"expected_total"`
}

type bookingResponse struct {
	entity.Booking
	EffectiveStatus string `json:"effective_status,omitempty"`
	Remaining       *int   `json:"remaining,omitempty"`
}

type postAdminCancelRequest struct {
	ReleaseCapacity *bool `json:"release_capacity"`
}

func (s Server) PostBookings(c echo.Context) error {
	var request postBookingsRequest
	if err := c.Bind(&request); err != nil {
		return err
	}
	if request.UnitID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "unit_id is required")
	}

	created, err := s.bookings.Create(c.Request().Context(), booking.CreateInput{
		User:           userFromContext(c),
		UnitID:         request.UnitID,
		Quantity:       request.Quantity,
		Items:          request.Items,
		ExpectedTotal:  request.ExpectedTotal,
		IdempotencyKey: c.Request().Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return respondError(c, err)
	}

	status := http.StatusCreated
	if created.Replayed {
		status = http.StatusOK
	}

	return c.JSON(status, bookingResponse{
		Booking:         created.Booking,
		EffectiveStatus: string(created.Booking.Status),
		Remaining:       &created.Remaining,
	})
}

func (s Server) GetBookings(c echo.Context) error {
	bookings, err := s.bookings.List(c.Request().Context(), userFromContext(c))
	if err != nil {
		return respondError(c, err)
	}

	response := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		response = append(response, bookingResponse{Booking: b})
	}

	return c.JSON(http.StatusOK, response)
}

func (s Server) GetBooking(c echo.Context) error {
	view, err := s.bookings.Get(c.Request().Context(), userFromContext(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, bookingResponse{
		Booking:         view.Booking,
		EffectiveStatus: view.EffectiveStatus,
	})
}

func (s Server) PatchBookingCancel(c echo.Context) error {
	cancelled, err := s.bookings.Cancel(c.Request().Context(), userFromContext(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, bookingResponse{Booking: cancelled, EffectiveStatus: string(cancelled.Status)})
}

func (s Server) PostBookingAdminCancel(c echo.Context) error {
	var request postAdminCancelRequest
	if err := c.Bind(&request); err != nil {
		return err
	}

	cancelled, err := s.bookings.AdminCancel(c.Request().Context(), booking.AdminCancelInput{
		User:            userFromContext(c),
		BookingID:       c.Param("id"),
		ReleaseCapacity: request.ReleaseCapacity,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, bookingResponse{Booking: cancelled, EffectiveStatus: string(cancelled.Status)})
}
