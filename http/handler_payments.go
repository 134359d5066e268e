package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/labstack/echo/v4"

	"venue/entity"
	"venue/payment"
)

type postPaymentConfirmRequest struct {
	SessionRef string `json:"session_ref"`
}

type paymentConfirmResponse struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type paymentStatusResponse struct {
	BookingID       string               `json:"booking_id"`
	Status          entity.BookingStatus `json:"status"`
	PaymentStatus   entity.PaymentStatus `json:"payment_status"`
	EffectiveStatus string               `json:"effective_status"`
	Confirming      bool                 `json:"confirming"`
}

// webhookRequest holds the invoice callback fields that are used. The
// reported status is ignored, the gateway is asked again.
type webhookRequest struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
}

func (s Server) PostPaymentCheckout(c echo.Context) error {
	checkout, err := s.payments.BeginCheckout(c.Request().Context(), userFromContext(c), c.Param("bookingId"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, checkout)
}

// PostPaymentConfirm handles the redirect back from the gateway. Outcomes
// that may still change are handed to background reconciliation and the
// client is told the payment is confirming.
func (s Server) PostPaymentConfirm(c echo.Context) error {
	var request postPaymentConfirmRequest
	if err := c.Bind(&request); err != nil {
		return err
	}

	ctx := c.Request().Context()
	user := userFromContext(c)
	bookingID := c.Param("bookingId")

	result, err := s.payments.Confirm(ctx, payment.ConfirmInput{
		BookingID:  bookingID,
		SessionRef: request.SessionRef,
		Source:     entity.ConfirmSourceRedirect,
		User:       &user,
	})
	if payment.Retriable(err) {
		err := s.commandBus.Send(ctx, &entity.ConfirmPayment{
			Header:     entity.NewEventHeader(),
			BookingID:  bookingID,
			SessionRef: request.SessionRef,
			Source:     entity.ConfirmSourceReconcile,
		})
		if err != nil {
			return err
		}

		return c.JSON(http.StatusAccepted, paymentConfirmResponse{BookingID: bookingID, Status: "confirming"})
	}
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, paymentConfirmResponse{BookingID: bookingID, Status: string(result)})
}

func (s Server) GetPaymentStatus(c echo.Context) error {
	view, err := s.payments.Status(c.Request().Context(), userFromContext(c), c.Param("bookingId"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, paymentStatusResponse{
		BookingID:       view.Booking.ID,
		Status:          view.Booking.Status,
		PaymentStatus:   view.Booking.PaymentStatus,
		EffectiveStatus: view.EffectiveStatus,
		Confirming:      view.Confirming,
	})
}

func (s Server) PostPaymentWebhook(c echo.Context) error {
	token := c.Request().Header.Get("X-Callback-Token")
	if s.webhookAuth == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.webhookAuth)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid callback token")
	}

	var request webhookRequest
	if err := c.Bind(&request); err != nil {
		return err
	}
	if request.ExternalID == "" || request.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id and external_id are required")
	}

	ctx := c.Request().Context()
	err := s.commandBus.Send(ctx, &entity.ConfirmPayment{
		Header:     entity.NewEventHeaderWithIdempotencyKey(request.ID),
		BookingID:  request.ExternalID,
		SessionRef: request.ID,
		Source:     entity.ConfirmSourceWebhook,
	})
	if err != nil {
		return err
	}

	log.FromContext(ctx).WithField("booking_id", request.ExternalID).Info("Payment webhook accepted")
	return c.NoContent(http.StatusOK)
}
