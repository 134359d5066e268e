package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	watermillSQL "github.com/ThreeDotsLabs/watermill-sql/v2/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/components/forwarder"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"venue/booking"
	"venue/clock"
	"venue/config"
	dbLib "venue/db"
	"venue/http"
	"venue/payment"
	"venue/pubsub"
	"venue/pubsub/bus"
	"venue/pubsub/command"
	"venue/pubsub/event"
	"venue/pubsub/outbox"
	"venue/ticket"
)

type App struct {
	db                 *sqlx.DB
	watermillRouter    *message.Router
	forwarder          *forwarder.Forwarder
	postgresSubscriber *watermillSQL.Subscriber
	httpServer         *http.Server
	sweeper            *booking.Sweeper
	traceProvider      *tracesdk.TracerProvider
}

func New(
	cfg config.Config,
	db *sqlx.DB,
	redisClient *redis.Client,
	paymentGateway payment.Gateway,
	receiptsService event.ReceiptsService,
	fileService event.FileService,
	clk clock.Clock,
	traceProvider *tracesdk.TracerProvider,
) App {
	loc, err := cfg.Location()
	if err != nil {
		panic(err)
	}

	watermillLogger := log.NewWatermill(log.FromContext(context.Background()))
	redisPublisher := pubsub.NewRedisPublisher(redisClient, watermillLogger)

	eventBus, err := bus.NewEventBus(redisPublisher)
	if err != nil {
		panic(fmt.Errorf("failed to create event bus: %w", err))
	}

	commandBus, err := bus.NewCommandBus(redisPublisher)
	if err != nil {
		panic(fmt.Errorf("failed to create command bus: %w", err))
	}

	store := dbLib.NewStore(db, watermillLogger)

	signer, err := ticket.NewSigner(cfg.TicketSecret)
	if err != nil {
		panic(err)
	}

	bookingService := booking.NewService(store, clk, booking.Config{
		AdminCancelReleasesCapacity: cfg.AdminCancelReleasesCapacity,
		MaxTicketsPerBooking:        cfg.MaxTicketsPerBooking,
		Location:                    loc,
		Currency:                    cfg.Currency,
	})

	coordinator := payment.NewCoordinator(store, paymentGateway, clk, payment.Config{
		Timeout:    cfg.GatewayTimeout,
		MaxRetries: cfg.GatewayMaxRetries,
		SessionTTL: cfg.SessionTTL,
		SuccessURL: cfg.PaymentSuccessURL,
		FailureURL: cfg.PaymentFailureURL,
	})

	ticketService := ticket.NewService(store, signer, clk, ticket.Config{
		SingleUse:  cfg.TicketSingleUse,
		EarlyEntry: cfg.TicketEarlyEntry,
		LateGrace:  cfg.TicketLateGrace,
	})

	eventsHandler := event.NewHandler(
		eventBus,
		receiptsService,
		fileService,
		store,
		signer,
		event.Config{CurrencyExponent: cfg.CurrencyExponent, Location: loc},
	)
	commandsHandler := command.NewHandler(coordinator)

	postgresSubscriber, err := outbox.NewPostgresSubscriber(db.DB, watermillLogger)
	if err != nil {
		panic(err)
	}

	fwd, err := outbox.NewForwarder(postgresSubscriber, redisPublisher, watermillLogger)
	if err != nil {
		panic(err)
	}

	watermillRouter, err := pubsub.NewWatermillRouter(
		redisPublisher,
		event.NewProcessorConfig(redisClient, watermillLogger),
		eventsHandler,
		command.NewProcessorConfig(redisClient, watermillLogger),
		commandsHandler,
		watermillLogger,
	)
	if err != nil {
		panic(fmt.Errorf("failed to create watermill router: %w", err))
	}

	httpServer := http.NewServer(
		cfg.HTTPAddr,
		http.Config{AuthSecret: cfg.AuthSecret, WebhookToken: cfg.WebhookToken},
		bookingService,
		coordinator,
		ticketService,
		commandBus,
	)

	return App{
		db:                 db,
		watermillRouter:    watermillRouter,
		forwarder:          fwd,
		postgresSubscriber: postgresSubscriber,
		httpServer:         httpServer,
		sweeper:            booking.NewSweeper(bookingService, cfg.ExpirySweepInterval),
		traceProvider:      traceProvider,
	}
}

func (a App) Run(ctx context.Context) error {
	if err := dbLib.InitializeDatabaseSchema(a.db); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}
	if err := a.postgresSubscriber.SubscribeInitialize(outbox.Topic); err != nil {
		return fmt.Errorf("failed to initialize outbox: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		if a.traceProvider == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.traceProvider.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.watermillRouter.Run(ctx)
	})

	g.Go(func() error {
		return a.forwarder.Run(ctx)
	})

	g.Go(func() error {
		return a.sweeper.Run(ctx)
	})

	g.Go(func() error {
		// the service reports healthy only once messages are being consumed
		<-a.watermillRouter.Running()

		return a.httpServer.Run(ctx)
	})

	return g.Wait()
}
