package db

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"venue/booking"
	"venue/clock"
	"venue/entity"
	"venue/gateway"
	"venue/payment"
	"venue/pubsub/outbox"
)

func TestStore_confirmCancelRace(t *testing.T) {
	ctx := context.Background()
	db := GetDb(t)
	logger := watermill.NopLogger{}

	sub, err := outbox.NewPostgresSubscriber(db.DB, logger)
	require.NoError(t, err)
	require.NoError(t, sub.SubscribeInitialize(outbox.Topic))

	store := NewStore(db, logger)
	gw := &gateway.PaymentGatewayMock{CheckoutBaseURL: "https://pay.test"}
	clk := clock.NewFixed(time.Now().UTC())

	bookings := booking.NewService(store, clk, booking.Config{})
	coordinator := payment.NewCoordinator(store, gw, clk, payment.Config{
		Timeout:       time.Second,
		MaxRetries:    3,
		RetryInterval: time.Millisecond,
	})

	unit := newTestUnit(t, 40)
	customer := entity.User{ID: "user-race", Role: entity.RoleCustomer}

	for i := 0; i < 10; i++ {
		created, err := bookings.Create(ctx, booking.CreateInput{
			User:   customer,
			UnitID: unit.ID,
			Items:  map[string]int{"standard": 2},
		})
		require.NoError(t, err)
		b := created.Booking

		checkout, err := coordinator.BeginCheckout(ctx, customer, b.ID)
		require.NoError(t, err)
		require.NoError(t, gw.Pay(checkout.SessionRef, b.Total))

		remainingBefore, err := store.Remaining(ctx, unit.ID)
		require.NoError(t, err)

		var cancelErr, confirmErr error
		var g errgroup.Group
		g.Go(func() error {
			_, cancelErr = bookings.Cancel(ctx, customer, b.ID)
			return nil
		})
		g.Go(func() error {
			_, confirmErr = coordinator.Confirm(ctx, payment.ConfirmInput{
				BookingID:  b.ID,
				SessionRef: checkout.SessionRef,
				Source:     entity.ConfirmSourceWebhook,
			})
			return nil
		})
		require.NoError(t, g.Wait())

		final, err := store.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		remaining, err := store.Remaining(ctx, unit.ID)
		require.NoError(t, err)

		intent, err := store.GetPaymentIntent(ctx, checkout.SessionRef)
		require.NoError(t, err)

		if final.IsPaid() {
			assert.NoError(t, confirmErr)
			assert.ErrorIs(t, cancelErr, entity.ErrInvalidTransition)
			assert.False(t, final.IsCancelled())
			assert.Equal(t, checkout.SessionRef, final.PaymentRef)
			assert.True(t, intent.Consumed())
			assert.Equal(t, remainingBefore, remaining)
		} else {
			assert.NoError(t, cancelErr)
			assert.ErrorIs(t, confirmErr, entity.ErrInvalidTransition)
			assert.True(t, final.IsCancelled())
			assert.True(t, final.CapacityReleased)
			assert.False(t, intent.Consumed())
			assert.Equal(t, remainingBefore+b.Quantity, remaining)
		}
	}
}
