package command

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"venue/entity"
	"venue/payment"
	"venue/pubsub/bus"
)

type PaymentCoordinator interface {
	Confirm(ctx context.Context, in payment.ConfirmInput) (entity.ConfirmResult, error)
}

type Handler struct {
	coordinator PaymentCoordinator
}

func NewHandler(coordinator PaymentCoordinator) Handler {
	if coordinator == nil {
		panic("missing coordinator")
	}

	return Handler{
		coordinator: coordinator,
	}
}

func NewProcessorConfig(redisClient *redis.Client, watermillLogger watermill.LoggerAdapter) cqrs.CommandProcessorConfig {
	return cqrs.CommandProcessorConfig{
		GenerateSubscribeTopic: func(params cqrs.CommandProcessorGenerateSubscribeTopicParams) (string, error) {
			return bus.CommandTopic(params.CommandName), nil
		},
		SubscriberConstructor: func(params cqrs.CommandProcessorSubscriberConstructorParams) (message.Subscriber, error) {
			return redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        redisClient,
				ConsumerGroup: "svc-venue.commands." + params.HandlerName,
			}, watermillLogger)
		},
		Marshaler: bus.Marshaler,
		Logger:    watermillLogger,
	}
}
