package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"venue/booking"
	"venue/entity"
)

type postUnitsRequest struct {
	Kind            entity.UnitKind  `json:"kind"`
	Title           string           `json:"title"`
	ManagerID       string           `json:"manager_id"`
	ProductID       string           `json:"product_id"`
	Day             string           `json:"day"`
	StartsAt        time.Time        `json:"starts_at"`
	EndsAt          time.Time        `json:"ends_at"`
	Prices          map[string]int64 `json:"prices"`
	DiscountPercent int              `json:"discount_percent"`
	Currency        string           `json:"currency"`
	Capacity        int              `json:"capacity"`
}

type unitResponse struct {
	entity.Unit
	Remaining int `json:"remaining"`
}

func (s Server) PostUnits(c echo.Context) error {
	var request postUnitsRequest
	if err := c.Bind(&request); err != nil {
		return err
	}

	unit, err := s.bookings.CreateUnit(c.Request().Context(), booking.CreateUnitInput{
		User:            userFromContext(c),
		Kind:            request.Kind,
		Title:           request.Title,
		ManagerID:       request.ManagerID,
		ProductID:       request.ProductID,
		Day:             request.Day,
		StartsAt:        request.StartsAt,
		EndsAt:          request.EndsAt,
		Prices:          request.Prices,
		DiscountPercent: request.DiscountPercent,
		Currency:        request.Currency,
		Capacity:        request.Capacity,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, unitResponse{Unit: unit, Remaining: unit.Capacity})
}

func (s Server) GetUnit(c echo.Context) error {
	view, err := s.bookings.GetUnit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, unitResponse{Unit: view.Unit, Remaining: view.Remaining})
}
