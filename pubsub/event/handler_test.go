package event_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue/db/memory"
	"venue/entity"
	"venue/gateway"
	"venue/pubsub/bus"
	"venue/pubsub/event"
	"venue/ticket"
)

var paidAt = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	handler  event.Handler
	store    *memory.Store
	receipts *gateway.ReceiptsMock
	files    *gateway.FilesMock
	booking  entity.Booking
}

func newFixture(t *testing.T, paid bool) fixture {
	t.Helper()
	ctx := context.Background()

	logger := watermill.NopLogger{}
	eventBus, err := bus.NewEventBus(gochannel.NewGoChannel(gochannel.Config{}, logger))
	require.NoError(t, err)

	signer, err := ticket.NewSigner("secret")
	require.NoError(t, err)

	store := memory.NewStore()
	unit := entity.Unit{
		ID:         "unit-1",
		Kind:       entity.UnitKindEvent,
		Title:      "Concert",
		ValidFrom:  paidAt.Add(48 * time.Hour),
		ValidUntil: paidAt.Add(51 * time.Hour),
		Prices:     map[string]int64{"standard": 2500},
		Currency:   "IDR",
		Capacity:   5,
		Status:     entity.UnitStatusActive,
	}
	require.NoError(t, store.CreateUnit(ctx, unit))

	b, err := entity.NewBooking("booking-1", "alice", unit, 2, nil, paidAt)
	require.NoError(t, err)
	if paid {
		_, err = b.MarkPaid(unit, "sess-1", "nonce-1", paidAt)
		require.NoError(t, err)
	}
	require.NoError(t, store.CreateBooking(ctx, b))

	receipts := &gateway.ReceiptsMock{}
	files := &gateway.FilesMock{}

	return fixture{
		handler:  event.NewHandler(eventBus, receipts, files, store, signer, event.Config{}),
		store:    store,
		receipts: receipts,
		files:    files,
		booking:  b,
	}
}

func paidEvent(b entity.Booking) *entity.BookingPaid {
	return &entity.BookingPaid{
		Header:     entity.NewEventHeaderWithIdempotencyKey(b.ID),
		BookingID:  b.ID,
		UserID:     b.UserID,
		UnitID:     b.UnitID,
		Quantity:   b.Quantity,
		Total:      b.Total,
		Currency:   b.Currency,
		SessionRef: "sess-1",
		PaidAt:     paidAt,
	}
}

func TestIssueReceiptHandler(t *testing.T) {
	f := newFixture(t, true)
	h := f.handler.IssueReceiptHandler()

	require.NoError(t, h.Handle(context.Background(), paidEvent(f.booking)))
	require.NoError(t, h.Handle(context.Background(), paidEvent(f.booking)))

	assert.Len(t, f.receipts.IssuedReceipts, 1, "redelivery must reuse the idempotency key")

	receipt, ok := f.receipts.Issued(f.booking.ID)
	require.True(t, ok)
	assert.Equal(t, entity.Money{Amount: "5000", Currency: "IDR"}, receipt.Price)
}

func TestPrintTicketHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("paid", func(t *testing.T) {
		f := newFixture(t, true)

		require.NoError(t, f.handler.PrintTicketHandler().Handle(ctx, paidEvent(f.booking)))

		content, err := f.files.DownloadFile(ctx, event.TicketFileName(f.booking.ID))
		require.NoError(t, err)
		assert.True(t, strings.Contains(content, "Concert"))
		assert.True(t, strings.Contains(content, f.booking.ID))
	})

	t.Run("cancelled_meanwhile", func(t *testing.T) {
		f := newFixture(t, true)
		b := f.booking
		_, err := b.AdminCancel(false, paidAt)
		require.NoError(t, err)
		require.NoError(t, f.store.UpdateBooking(ctx, b))

		require.NoError(t, f.handler.PrintTicketHandler().Handle(ctx, paidEvent(f.booking)))
		assert.Empty(t, f.files.Files())
	})
}
