package ticket_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue/clock"
	"venue/db/memory"
	"venue/entity"
	"venue/ticket"
)

var (
	bookedAt = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	alice    = entity.User{ID: "alice", Role: entity.RoleCustomer}
	bob      = entity.User{ID: "bob", Role: entity.RoleCustomer}
	gate     = entity.User{ID: "gate-1", Role: entity.RoleGate}
)

func eventUnit() entity.Unit {
	return entity.Unit{
		ID:         "11111111-1111-1111-1111-111111111111",
		Kind:       entity.UnitKindEvent,
		Title:      "Concert",
		ManagerID:  "manager-1",
		ValidFrom:  time.Date(2026, 5, 12, 19, 0, 0, 0, time.UTC),
		ValidUntil: time.Date(2026, 5, 12, 22, 0, 0, 0, time.UTC),
		Prices:     map[string]int64{"standard": 2500},
		Currency:   "IDR",
		Capacity:   10,
		Status:     entity.UnitStatusActive,
		CreatedAt:  bookedAt,
	}
}

func dayPassUnit(t *testing.T) entity.Unit {
	t.Helper()

	from, until, err := entity.DayWindow("2026-05-13", time.UTC)
	require.NoError(t, err)

	return entity.Unit{
		ID:         "22222222-2222-2222-2222-222222222222",
		Kind:       entity.UnitKindDayPass,
		Title:      "Park entry",
		ManagerID:  "manager-1",
		ProductID:  "park",
		Day:        "2026-05-13",
		ValidFrom:  from,
		ValidUntil: until,
		Prices:     map[string]int64{"adult": 1000, "child": 500},
		Currency:   "IDR",
		Capacity:   100,
		Status:     entity.UnitStatusActive,
		CreatedAt:  bookedAt,
	}
}

func newSigner(t *testing.T) ticket.Signer {
	t.Helper()

	signer, err := ticket.NewSigner("test-ticket-secret")
	require.NoError(t, err)
	return signer
}

func newService(t *testing.T, store *memory.Store, now time.Time, cfg ticket.Config) *ticket.Service {
	t.Helper()
	return ticket.NewService(store, newSigner(t), clock.NewFixed(now), cfg)
}

func storeBooking(t *testing.T, store *memory.Store, unit entity.Unit, id string, items map[string]int, paid bool) entity.Booking {
	t.Helper()
	ctx := context.Background()

	if _, err := store.GetUnit(ctx, unit.ID); err != nil {
		require.NoError(t, store.CreateUnit(ctx, unit))
	}

	b, err := entity.NewBooking(id, alice.ID, unit, 0, items, bookedAt)
	require.NoError(t, err)
	require.NoError(t, store.CreateBooking(ctx, b))

	if paid {
		_, err := b.MarkPaid(unit, "sess-"+id, "nonce-"+id, bookedAt)
		require.NoError(t, err)
		require.NoError(t, store.UpdateBooking(ctx, b))
	}
	return b
}

func TestService_Issue(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	unit := eventUnit()
	svc := newService(t, store, bookedAt, ticket.Config{})

	pending := storeBooking(t, store, unit, "b-pending", map[string]int{"standard": 1}, false)
	paid := storeBooking(t, store, unit, "b-paid", map[string]int{"standard": 2}, true)

	_, err := svc.Issue(ctx, alice, pending.ID)
	assert.ErrorIs(t, err, entity.ErrNotPaid)

	first, err := svc.Issue(ctx, alice, paid.ID)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, alice, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token, "reissued token must be equivalent")

	_, err = svc.Issue(ctx, bob, paid.ID)
	assert.ErrorIs(t, err, entity.ErrForbidden)

	managed, err := svc.Issue(ctx, entity.User{ID: "manager-1", Role: entity.RoleManager}, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Token, managed.Token)

	cancelled := storeBooking(t, store, unit, "b-cancelled", map[string]int{"standard": 1}, true)
	_, err = cancelled.AdminCancel(false, bookedAt)
	require.NoError(t, err)
	require.NoError(t, store.UpdateBooking(ctx, cancelled))

	_, err = svc.Issue(ctx, alice, cancelled.ID)
	assert.ErrorIs(t, err, entity.ErrNotPaid)
}

func TestService_Verify_eventWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	unit := eventUnit()
	cfg := ticket.Config{EarlyEntry: 2 * time.Hour, LateGrace: time.Hour}

	paid := storeBooking(t, store, unit, "b-paid", map[string]int{"standard": 2}, true)
	token, err := newService(t, store, bookedAt, cfg).Issue(ctx, alice, paid.ID)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		at     time.Time
		valid  bool
		reason string
	}{
		{name: "days_before", at: bookedAt, reason: ticket.ReasonNotYetValid},
		{name: "early_entry", at: unit.ValidFrom.Add(-2 * time.Hour), valid: true},
		{name: "during", at: unit.ValidFrom.Add(time.Hour), valid: true},
		{name: "late_grace", at: unit.ValidUntil.Add(59 * time.Minute), valid: true},
		{name: "after_grace", at: unit.ValidUntil.Add(time.Hour), reason: ticket.ReasonExpired},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := newService(t, store, tc.at, cfg).Verify(ctx, gate, token.Token)
			require.NoError(t, err)

			assert.Equal(t, tc.valid, result.Valid)
			assert.Equal(t, tc.reason, result.Reason)
			assert.Equal(t, paid.ID, result.BookingID)
			assert.Equal(t, unit.ID, result.UnitID)
		})
	}
}

func TestService_Verify_dayPass(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	unit := dayPassUnit(t)
	cfg := ticket.Config{EarlyEntry: 2 * time.Hour, LateGrace: time.Hour}

	paid := storeBooking(t, store, unit, "b-day", map[string]int{"adult": 2, "child": 1}, true)
	token, err := newService(t, store, bookedAt, cfg).Issue(ctx, alice, paid.ID)
	require.NoError(t, err)

	verify := func(at time.Time) entity.VerifyResult {
		result, err := newService(t, store, at, cfg).Verify(ctx, gate, token.Token)
		require.NoError(t, err)
		return result
	}

	assert.Equal(t, ticket.ReasonNotYetValid, verify(unit.ValidFrom.Add(-time.Minute)).Reason)
	assert.True(t, verify(unit.ValidFrom).Valid)
	assert.True(t, verify(unit.ValidUntil.Add(-time.Second)).Valid)
	assert.Equal(t, ticket.ReasonExpired, verify(unit.ValidUntil).Reason)
}

func TestService_Verify_rejections(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	unit := eventUnit()
	during := unit.ValidFrom.Add(time.Hour)
	svc := newService(t, store, during, ticket.Config{})

	paid := storeBooking(t, store, unit, "b-paid", map[string]int{"standard": 2}, true)
	token, err := svc.Issue(ctx, alice, paid.ID)
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		result, err := svc.Verify(ctx, gate, "not-a-token")
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, ticket.ReasonTokenInvalid, result.Reason)
	})

	t.Run("tampered", func(t *testing.T) {
		parts := strings.Split(token.Token, ".")
		require.Len(t, parts, 3)
		tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

		result, err := svc.Verify(ctx, gate, tampered)
		require.NoError(t, err)
		assert.Equal(t, ticket.ReasonTokenInvalid, result.Reason)
	})

	t.Run("other_secret", func(t *testing.T) {
		other, err := ticket.NewSigner("another-secret")
		require.NoError(t, err)
		forged, err := other.Sign(paid, unit)
		require.NoError(t, err)

		result, err := svc.Verify(ctx, gate, forged)
		require.NoError(t, err)
		assert.Equal(t, ticket.ReasonTokenInvalid, result.Reason)
	})

	t.Run("unsigned", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Issuer:  "venue",
			Subject: paid.ID,
			ID:      paid.TicketNonce,
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		result, err := svc.Verify(ctx, gate, unsigned)
		require.NoError(t, err)
		assert.Equal(t, ticket.ReasonTokenInvalid, result.Reason)
	})

	t.Run("cancelled_after_issue", func(t *testing.T) {
		b := storeBooking(t, store, unit, "b-admin", map[string]int{"standard": 1}, true)
		tok, err := svc.Issue(ctx, alice, b.ID)
		require.NoError(t, err)

		_, err = b.AdminCancel(false, during)
		require.NoError(t, err)
		require.NoError(t, store.UpdateBooking(ctx, b))

		result, err := svc.Verify(ctx, gate, tok.Token)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, ticket.ReasonCancelled, result.Reason)
	})

	t.Run("customer_cannot_verify", func(t *testing.T) {
		_, err := svc.Verify(ctx, alice, token.Token)
		assert.ErrorIs(t, err, entity.ErrForbidden)
	})
}

func TestService_Verify_singleUse(t *testing.T) {
	ctx := context.Background()
	unit := eventUnit()
	during := unit.ValidFrom.Add(time.Hour)

	t.Run("disabled", func(t *testing.T) {
		store := memory.NewStore()
		svc := newService(t, store, during, ticket.Config{})
		paid := storeBooking(t, store, unit, "b-paid", map[string]int{"standard": 1}, true)
		token, err := svc.Issue(ctx, alice, paid.ID)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			result, err := svc.Verify(ctx, gate, token.Token)
			require.NoError(t, err)
			assert.True(t, result.Valid)
		}
		assert.Empty(t, store.Events())
	})

	t.Run("enabled", func(t *testing.T) {
		store := memory.NewStore()
		svc := newService(t, store, during, ticket.Config{SingleUse: true})
		paid := storeBooking(t, store, unit, "b-paid", map[string]int{"standard": 1}, true)
		token, err := svc.Issue(ctx, alice, paid.ID)
		require.NoError(t, err)

		result, err := svc.Verify(ctx, gate, token.Token)
		require.NoError(t, err)
		assert.True(t, result.Valid)

		result, err = svc.Verify(ctx, gate, token.Token)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, ticket.ReasonAlreadyRedeemed, result.Reason)

		redemption, err := store.GetRedemption(ctx, paid.ID)
		require.NoError(t, err)
		assert.Equal(t, gate.ID, redemption.RedeemedBy)

		require.Len(t, store.Events(), 1)
		assert.IsType(t, entity.TicketRedeemed{}, store.Events()[0])
	})
}

func TestRenderPrintable(t *testing.T) {
	store := memory.NewStore()
	unit := dayPassUnit(t)
	paid := storeBooking(t, store, unit, "b-day", map[string]int{"adult": 2}, true)

	token, err := newSigner(t).Sign(paid, unit)
	require.NoError(t, err)

	png, err := ticket.QRCode(token)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	html, err := ticket.RenderPrintable(paid, unit, token, 0, time.UTC)
	require.NoError(t, err)
	assert.Contains(t, html, "Park entry")
	assert.Contains(t, html, paid.ID)
	assert.Contains(t, html, "Valid on 2026-05-13")
	assert.Contains(t, html, "data:image/png;base64,")
}
