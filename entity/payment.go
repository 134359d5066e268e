package entity

import "time"

// PaymentIntent ties a gateway checkout session to a booking.
type PaymentIntent struct {
	SessionRef  string     `json:"session_ref"`
	BookingID   string     `json:"booking_id"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	CheckoutURL string     `json:"checkout_url"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

func (i PaymentIntent) Consumed() bool {
	return i.ConsumedAt != nil
}

// Reusable reports whether the intent can be handed out again for a new
// checkout attempt of the same amount.
func (i PaymentIntent) Reusable(amount int64, now time.Time) bool {
	return !i.Consumed() && i.Amount == amount && now.Before(i.ExpiresAt)
}

type CheckoutSessionRequest struct {
	BookingID   string
	Amount      int64
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
	Duration    time.Duration
}

type CheckoutSession struct {
	SessionRef  string
	RedirectURL string
	ExpiresAt   time.Time
}

// SessionStatus is what the gateway reports about a session. AmountReceived
// is in minor units.
type SessionStatus struct {
	Paid           bool
	AmountReceived int64
	Currency       string
}

type ConfirmSource string

const (
	ConfirmSourceRedirect  ConfirmSource = "redirect"
	ConfirmSourceWebhook   ConfirmSource = "webhook"
	ConfirmSourcePoll      ConfirmSource = "poll"
	ConfirmSourceReconcile ConfirmSource = "reconcile"
)

type ConfirmResult string

const (
	ConfirmResultConfirmed        ConfirmResult = "confirmed"
	ConfirmResultAlreadyConfirmed ConfirmResult = "already_confirmed"
)
