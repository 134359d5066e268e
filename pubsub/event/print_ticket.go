package event

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"

	"venue/entity"
	"venue/ticket"
)

func TicketFileName(bookingID string) string {
	return fmt.Sprintf("%s-ticket.html", bookingID)
}

func (h Handler) PrintTicketHandler() cqrs.EventHandler {
	return cqrs.NewEventHandler(
		"PrintTicketHandler",
		func(ctx context.Context, event *entity.BookingPaid) error {
			log.FromContext(ctx).WithField("booking_id", event.BookingID).Info("Printing ticket")

			booking, err := h.bookingsRepo.GetBooking(ctx, event.BookingID)
			if err != nil {
				return fmt.Errorf("could not get booking: %w", err)
			}
			if booking.IsCancelled() {
				log.FromContext(ctx).WithField("booking_id", booking.ID).Info("Booking cancelled, not printing ticket")
				return nil
			}

			unit, err := h.bookingsRepo.GetUnit(ctx, booking.UnitID)
			if err != nil {
				return fmt.Errorf("could not get unit: %w", err)
			}

			token, err := h.signer.Sign(booking, unit)
			if err != nil {
				return fmt.Errorf("could not sign ticket: %w", err)
			}

			html, err := ticket.RenderPrintable(booking, unit, token, h.cfg.CurrencyExponent, h.cfg.Location)
			if err != nil {
				return err
			}

			fileName := TicketFileName(booking.ID)
			if err := h.fileService.UploadFile(ctx, fileName, html); err != nil {
				return fmt.Errorf("failed to upload ticket file: %w", err)
			}

			return h.eventBus.Publish(ctx, entity.TicketPrinted{
				Header:    entity.NewEventHeaderWithIdempotencyKey(event.Header.IdempotencyKey),
				BookingID: booking.ID,
				FileName:  fileName,
			})
		},
	)
}
