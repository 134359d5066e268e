package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"venue/entity"
)

type mockSession struct {
	request entity.CheckoutSessionRequest
	paid    bool
	amount  int64
}

// PaymentGatewayMock is an in-memory gateway. Sessions are paid with Pay,
// and FailNext makes the following calls fail as unavailable.
type PaymentGatewayMock struct {
	lock sync.Mutex

	CheckoutBaseURL string

	sessions    map[string]*mockSession
	failures    int
	StatusCalls int
}

func (g *PaymentGatewayMock) CreateSession(ctx context.Context, request entity.CheckoutSessionRequest) (entity.CheckoutSession, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	if err := g.fail(); err != nil {
		return entity.CheckoutSession{}, err
	}
	if g.sessions == nil {
		g.sessions = make(map[string]*mockSession)
	}

	ref := "sess_" + uuid.NewString()
	g.sessions[ref] = &mockSession{request: request}

	return entity.CheckoutSession{
		SessionRef:  ref,
		RedirectURL: g.CheckoutBaseURL + "/checkout/" + ref,
		ExpiresAt:   time.Now().UTC().Add(request.Duration),
	}, nil
}

func (g *PaymentGatewayMock) GetSessionStatus(ctx context.Context, sessionRef string) (entity.SessionStatus, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.StatusCalls++
	if err := g.fail(); err != nil {
		return entity.SessionStatus{}, err
	}

	s, ok := g.sessions[sessionRef]
	if !ok {
		return entity.SessionStatus{}, fmt.Errorf("%w: unknown session %s", entity.ErrSessionMismatch, sessionRef)
	}

	return entity.SessionStatus{
		Paid:           s.paid,
		AmountReceived: s.amount,
		Currency:       s.request.Currency,
	}, nil
}

// Pay completes a session with the given amount in minor units.
func (g *PaymentGatewayMock) Pay(sessionRef string, amount int64) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	s, ok := g.sessions[sessionRef]
	if !ok {
		return fmt.Errorf("session %s not found", sessionRef)
	}
	s.paid = true
	s.amount = amount
	return nil
}

// Sessions returns the booking ids of created sessions keyed by reference.
func (g *PaymentGatewayMock) Sessions() map[string]string {
	g.lock.Lock()
	defer g.lock.Unlock()

	result := make(map[string]string, len(g.sessions))
	for ref, s := range g.sessions {
		result[ref] = s.request.BookingID
	}
	return result
}

func (g *PaymentGatewayMock) FailNext(n int) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.failures = n
}

func (g *PaymentGatewayMock) fail() error {
	if g.failures > 0 {
		g.failures--
		return fmt.Errorf("%w: mocked outage", entity.ErrGatewayUnavailable)
	}
	return nil
}
