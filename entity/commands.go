package entity

// ConfirmPayment asks the payment coordinator to reconcile a checkout
// session with its booking. Every confirmation channel that cannot finish
// synchronously ends up as one of these.
type ConfirmPayment struct {
	Header     EventHeader   `json:"header"`
	BookingID  string        `json:"booking_id"`
	SessionRef string        `json:"session_ref"`
	Source     ConfirmSource `json:"source"`
}
