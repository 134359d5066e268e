package outbox

import (
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill"
	watermillSQL "github.com/ThreeDotsLabs/watermill-sql/v2/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/components/forwarder"
	"github.com/ThreeDotsLabs/watermill/message"

	"venue/tracing"
)

// Topic is the Postgres topic holding events waiting to be forwarded to
// redis.
const Topic = "events_to_forward"

// NewPublisherForTx publishes into the outbox table using tx, so messages
// become visible only when tx commits.
func NewPublisherForTx(tx *sql.Tx, logger watermill.LoggerAdapter) (message.Publisher, error) {
	var publisher message.Publisher

	sqlPublisher, err := watermillSQL.NewPublisher(
		tx,
		watermillSQL.PublisherConfig{
			SchemaAdapter: watermillSQL.DefaultPostgreSQLSchema{},
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create outbox publisher: %w", err)
	}

	publisher = forwarder.NewPublisher(sqlPublisher, forwarder.PublisherConfig{
		ForwarderTopic: Topic,
	})
	publisher = log.CorrelationPublisherDecorator{Publisher: publisher}
	publisher = tracing.PublisherDecorator{Publisher: publisher}

	return publisher, nil
}

func NewPostgresSubscriber(db watermillSQL.Beginner, logger watermill.LoggerAdapter) (*watermillSQL.Subscriber, error) {
	sub, err := watermillSQL.NewSubscriber(
		db,
		watermillSQL.SubscriberConfig{
			SchemaAdapter:    watermillSQL.DefaultPostgreSQLSchema{},
			OffsetsAdapter:   watermillSQL.DefaultPostgreSQLOffsetsAdapter{},
			InitializeSchema: true,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("could not create outbox subscriber: %w", err)
	}

	return sub, nil
}

// NewForwarder moves messages from the outbox table to the broker.
func NewForwarder(
	sub message.Subscriber,
	pub message.Publisher,
	logger watermill.LoggerAdapter,
) (*forwarder.Forwarder, error) {
	fwd, err := forwarder.NewForwarder(sub, pub, logger, forwarder.Config{
		ForwarderTopic: Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create forwarder: %w", err)
	}

	return fwd, nil
}
