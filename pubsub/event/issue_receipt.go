package event

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"

	"venue/entity"
)

func (h Handler) IssueReceiptHandler() cqrs.EventHandler {
	return cqrs.NewEventHandler(
		"IssueReceiptHandler",
		func(ctx context.Context, event *entity.BookingPaid) error {
			log.FromContext(ctx).WithField("booking_id", event.BookingID).Info("Issuing receipt")

			request := entity.IssueReceiptRequest{
				BookingID:      event.BookingID,
				Price:          entity.NewMoney(event.Total, event.Currency, h.cfg.CurrencyExponent),
				IdempotencyKey: event.BookingID,
			}

			resp, err := h.receiptsService.IssueReceipt(ctx, request)
			if err != nil {
				return fmt.Errorf("failed to issue receipt: %w", err)
			}

			log.FromContext(ctx).WithField("receipt_number", resp.ReceiptNumber).Info("Receipt issued")
			return nil
		},
	)
}
