package command

import (
	"context"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"

	"venue/entity"
	"venue/payment"
)

// ConfirmPaymentHandler reconciles sessions in the background. Outcomes that
// may still change are returned as errors so the router retries them; final
// rejections are acked.
func (h Handler) ConfirmPaymentHandler() cqrs.CommandHandler {
	return cqrs.NewCommandHandler(
		"ConfirmPaymentHandler",
		func(ctx context.Context, cmd *entity.ConfirmPayment) error {
			source := cmd.Source
			if source == "" {
				source = entity.ConfirmSourceReconcile
			}

			_, err := h.coordinator.Confirm(ctx, payment.ConfirmInput{
				BookingID:  cmd.BookingID,
				SessionRef: cmd.SessionRef,
				Source:     source,
			})
			if err == nil {
				return nil
			}
			if payment.Retriable(err) {
				return err
			}

			log.FromContext(ctx).WithError(err).WithField("booking_id", cmd.BookingID).Warn("Dropping payment confirmation")
			return nil
		},
	)
}
