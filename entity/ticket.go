package entity

import "time"

type TicketToken struct {
	BookingID string `json:"booking_id"`
	Token     string `json:"token"`
}

type VerifyResult struct {
	BookingID string `json:"booking_id,omitempty"`
	UnitID    string `json:"unit_id,omitempty"`
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
}

type Redemption struct {
	BookingID  string    `json:"booking_id"`
	TokenID    string    `json:"token_id"`
	RedeemedAt time.Time `json:"redeemed_at"`
	RedeemedBy string    `json:"redeemed_by"`
}
