package db

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jmoiron/sqlx"

	"venue/pubsub/bus"
	"venue/pubsub/outbox"
)

// Outbox publishes events through the transactional outbox, so they are
// emitted only if the surrounding transaction commits.
type Outbox struct {
	db     *sqlx.DB
	logger watermill.LoggerAdapter
}

func NewOutbox(db *sqlx.DB, logger watermill.LoggerAdapter) Outbox {
	if db == nil {
		panic("missing db")
	}
	if logger == nil {
		panic("missing logger")
	}

	return Outbox{db: db, logger: logger}
}

func (o Outbox) Publish(ctx context.Context, events ...any) error {
	return NewTransactor(o.db).WithTx(ctx, func(ctx context.Context) error {
		publisher, err := outbox.NewPublisherForTx(txFromContext(ctx).Tx, o.logger)
		if err != nil {
			return err
		}

		eventBus, err := bus.NewEventBus(publisher)
		if err != nil {
			return fmt.Errorf("could not create event bus: %w", err)
		}

		for _, event := range events {
			if err := eventBus.Publish(ctx, event); err != nil {
				return fmt.Errorf("could not publish %T: %w", event, err)
			}
		}

		return nil
	})
}
