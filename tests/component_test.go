package tests

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"venue/app"
	"venue/client"
	"venue/clock"
	"venue/config"
	"venue/entity"
	"venue/gateway"
	venueHTTP "venue/http"
	"venue/pubsub"
	"venue/pubsub/event"
)

const (
	httpAddress  = ":8080"
	apiURL       = "http://localhost:8080"
	authSecret   = "component-auth-secret"
	webhookToken = "component-webhook-token"
)

func TestComponent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("github.com/testcontainers/testcontainers-go.(*Reaper).Connect.func1"))
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dbconn, err := sqlx.Open("postgres", postgresURL)
	require.NoError(t, err)
	defer dbconn.Close()

	redisClient := pubsub.NewRedisClient(redisURL)
	defer redisClient.Close()

	paymentGateway := &gateway.PaymentGatewayMock{CheckoutBaseURL: "https://checkout.test"}
	receiptsClient := &gateway.ReceiptsMock{IssuedReceipts: map[string]entity.IssueReceiptRequest{}}
	filesClient := &gateway.FilesMock{}

	cfg := config.Config{
		HTTPAddr:            httpAddress,
		PostgresURL:         postgresURL,
		RedisAddr:           redisURL,
		GatewayAddr:         "http://localhost:8888",
		AuthSecret:          authSecret,
		TicketSecret:        "component-ticket-secret",
		WebhookToken:        webhookToken,
		Currency:            "IDR",
		GatewayTimeout:      time.Second,
		GatewayMaxRetries:   2,
		SessionTTL:          time.Hour,
		TicketSingleUse:     true,
		TicketEarlyEntry:    2 * time.Hour,
		TicketLateGrace:     time.Hour,
		VenueTimezone:       "UTC",
		ExpirySweepInterval: time.Minute,
	}

	done := make(chan struct{})
	go func() {
		<-done
		e := syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		require.NoError(t, e)
	}()

	finished := make(chan struct{})
	go func() {
		svc := app.New(
			cfg,
			dbconn,
			redisClient,
			paymentGateway,
			receiptsClient,
			filesClient,
			clock.NewSystem(),
			nil,
		)
		assert.NoError(t, svc.Run(ctx))
		close(finished)
	}()

	defer func() {
		close(done)
		<-finished
	}()

	waitForHttpServer(t)

	manager := newClient(t, entity.User{ID: "manager-" + uuid.NewString(), Role: entity.RoleManager})
	customer := newClient(t, entity.User{ID: "customer-" + uuid.NewString(), Role: entity.RoleCustomer})
	gate := newClient(t, entity.User{ID: "gate-1", Role: entity.RoleGate})

	now := time.Now().UTC()
	unit, err := manager.CreateUnit(ctx, client.CreateUnitRequest{
		Kind:     entity.UnitKindEvent,
		Title:    "Opening night",
		StartsAt: now.Add(time.Hour),
		EndsAt:   now.Add(3 * time.Hour),
		Prices:   map[string]int64{"standard": 2500},
		Capacity: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, unit.Remaining)

	booking, err := customer.CreateBooking(ctx, client.CreateBookingRequest{
		UnitID:         unit.ID,
		Quantity:       2,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusPending, booking.Status)
	assert.Equal(t, int64(5000), booking.Total)

	_, err = customer.CreateBooking(ctx, client.CreateBookingRequest{UnitID: unit.ID, Quantity: 2})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	if assert.NotNil(t, apiErr.Remaining) {
		assert.Equal(t, 1, *apiErr.Remaining)
	}

	_, err = customer.TicketToken(ctx, booking.ID)
	assert.Equal(t, http.StatusConflict, client.StatusCode(err), "no ticket before payment")

	checkout, err := customer.BeginCheckout(ctx, booking.ID)
	require.NoError(t, err)
	require.NotEmpty(t, checkout.SessionRef)
	require.NoError(t, paymentGateway.Pay(checkout.SessionRef, booking.Total))

	// webhook and redirect race each other, both must end in the same state
	require.NoError(t, customer.SendWebhook(ctx, webhookToken, checkout.SessionRef, booking.ID))
	confirmed, err := customer.ConfirmPayment(ctx, booking.ID, checkout.SessionRef)
	require.NoError(t, err)
	assert.Contains(t, []string{
		string(entity.ConfirmResultConfirmed),
		string(entity.ConfirmResultAlreadyConfirmed),
	}, confirmed.Status)

	status, err := customer.WaitForPayment(ctx, booking.ID, client.WaitConfig{
		InitialInterval: 50 * time.Millisecond,
		MaxAttempts:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.BookingStatusBooked, status.Status)

	assertReceiptIssued(t, receiptsClient, booking.ID)
	assertTicketPrinted(t, filesClient, booking.ID)

	_, err = customer.CancelBooking(ctx, booking.ID)
	assert.Equal(t, http.StatusConflict, client.StatusCode(err), "paid bookings cannot be cancelled by the user")

	token, err := customer.TicketToken(ctx, booking.ID)
	require.NoError(t, err)

	_, err = customer.VerifyTicket(ctx, token.Token)
	assert.Equal(t, http.StatusForbidden, client.StatusCode(err))

	result, err := gate.VerifyTicket(ctx, token.Token)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, booking.ID, result.BookingID)
	assert.Equal(t, unit.ID, result.UnitID)

	result, err = gate.VerifyTicket(ctx, token.Token)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "already_redeemed", result.Reason)

	remaining, err := manager.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining.Remaining)
}

func newClient(t *testing.T, user entity.User) *client.Client {
	t.Helper()

	token, err := venueHTTP.NewAuthToken(authSecret, user, time.Hour)
	require.NoError(t, err)

	return client.New(apiURL, token)
}

func assertReceiptIssued(t *testing.T, receiptsService *gateway.ReceiptsMock, bookingID string) {
	assert.EventuallyWithT(
		t,
		func(collectT *assert.CollectT) {
			receipt, ok := receiptsService.Issued(bookingID)
			if !assert.True(collectT, ok, "receipt for booking %s not found", bookingID) {
				return
			}
			assert.Equal(collectT, "5000", receipt.Price.Amount)
			assert.Equal(collectT, "IDR", receipt.Price.Currency)
			assert.Equal(collectT, bookingID, receipt.IdempotencyKey)
		},
		10*time.Second,
		100*time.Millisecond,
	)
}

func assertTicketPrinted(t *testing.T, filesAPI *gateway.FilesMock, bookingID string) {
	assert.EventuallyWithT(
		t,
		func(t *assert.CollectT) {
			content, err := filesAPI.DownloadFile(context.Background(), event.TicketFileName(bookingID))
			if !assert.NoError(t, err) {
				return
			}

			assert.Contains(t, content, "data:image/png;base64,")
		},
		10*time.Second,
		100*time.Millisecond,
	)
}

func waitForHttpServer(t *testing.T) {
	t.Helper()

	require.EventuallyWithT(
		t,
		func(t *assert.CollectT) {
			err := client.New(apiURL, "").Health(context.Background())
			assert.NoError(t, err, "API not ready")
		},
		time.Second*10,
		time.Millisecond*50,
	)
}
