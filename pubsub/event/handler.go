package event

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"venue/entity"
	"venue/pubsub/bus"
)

type ReceiptsService interface {
	IssueReceipt(ctx context.Context, request entity.IssueReceiptRequest) (entity.IssueReceiptResponse, error)
}

type FileService interface {
	UploadFile(ctx context.Context, fileID string, fileContent string) error
}

type BookingsRepository interface {
	GetBooking(ctx context.Context, bookingID string) (entity.Booking, error)
	GetUnit(ctx context.Context, unitID string) (entity.Unit, error)
}

type TicketSigner interface {
	Sign(booking entity.Booking, unit entity.Unit) (string, error)
}

type Config struct {
	CurrencyExponent int
	Location         *time.Location
}

type Handler struct {
	eventBus        *cqrs.EventBus
	receiptsService ReceiptsService
	fileService     FileService
	bookingsRepo    BookingsRepository
	signer          TicketSigner
	cfg             Config
}

func NewHandler(
	eventBus *cqrs.EventBus,
	receiptsService ReceiptsService,
	fileService FileService,
	bookingsRepo BookingsRepository,
	signer TicketSigner,
	cfg Config,
) Handler {
	if eventBus == nil {
		panic("missing eventBus")
	}
	if receiptsService == nil {
		panic("missing receiptsService")
	}
	if fileService == nil {
		panic("missing fileService")
	}
	if bookingsRepo == nil {
		panic("missing bookingsRepo")
	}
	if signer == nil {
		panic("missing signer")
	}

	return Handler{
		eventBus:        eventBus,
		receiptsService: receiptsService,
		fileService:     fileService,
		bookingsRepo:    bookingsRepo,
		signer:          signer,
		cfg:             cfg,
	}
}

func NewProcessorConfig(redisClient *redis.Client, watermillLogger watermill.LoggerAdapter) cqrs.EventProcessorConfig {
	return cqrs.EventProcessorConfig{
		GenerateSubscribeTopic: func(params cqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
			return bus.EventTopic(params.EventName), nil
		},
		SubscriberConstructor: func(params cqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
			return redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        redisClient,
				ConsumerGroup: "svc-venue." + params.HandlerName,
			}, watermillLogger)
		},
		Marshaler: bus.Marshaler,
		Logger:    watermillLogger,
	}
}
