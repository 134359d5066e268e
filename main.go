package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/ThreeDotsLabs/go-event-driven/common/clients"
	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/jessevdk/go-flags"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"venue/app"
	"venue/clock"
	"venue/config"
	"venue/gateway"
	"venue/payment"
	"venue/pubsub"
	"venue/tracing"
)

func main() {
	log.Init(logrus.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	apiClients, err := clients.NewClients(cfg.GatewayAddr, func(ctx context.Context, req *http.Request) error {
		req.Header.Set("Correlation-ID", log.CorrelationIDFromContext(ctx))
		return nil
	})
	if err != nil {
		panic(err)
	}

	traceProvider := tracing.ConfigureTraceProvider(cfg.JaegerEndpoint, cfg.GatewayAddr)

	sqlDB, err := otelsql.Open("postgres", cfg.PostgresURL,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithDBName("venue"),
	)
	if err != nil {
		panic(err)
	}
	db := sqlx.NewDb(sqlDB, "postgres")
	defer db.Close()

	redisClient := pubsub.NewRedisClient(cfg.RedisAddr)
	defer redisClient.Close()

	var paymentGateway payment.Gateway
	if cfg.XenditSecretKey != "" {
		paymentGateway = gateway.NewXenditPaymentGateway(cfg.XenditSecretKey, cfg.CurrencyExponent)
	} else {
		log.FromContext(ctx).Warn("XENDIT_SECRET_KEY is not set, using the in-memory payment gateway")
		paymentGateway = &gateway.PaymentGatewayMock{CheckoutBaseURL: "http://localhost" + cfg.HTTPAddr}
	}

	err = app.New(
		cfg,
		db,
		redisClient,
		paymentGateway,
		gateway.NewReceiptsClient(apiClients),
		gateway.NewFilesClient(apiClients),
		clock.NewSystem(),
		traceProvider,
	).Run(ctx)
	if err != nil {
		panic(err)
	}
}
