package entity

import (
	"time"

	"github.com/google/uuid"
)

type EventHeader struct {
	ID             string    `json:"id"`
	PublishedAt    time.Time `json:"published_at"`
	IdempotencyKey string    `json:"idempotency_key"`
}

func NewEventHeader() EventHeader {
	return EventHeader{
		ID:          uuid.NewString(),
		PublishedAt: time.Now().UTC(),
	}
}

func NewEventHeaderWithIdempotencyKey(idempotencyKey string) EventHeader {
	return EventHeader{
		ID:             uuid.NewString(),
		PublishedAt:    time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
	}
}

type BookingCreated struct {
	Header    EventHeader    `json:"header"`
	BookingID string         `json:"booking_id"`
	UserID    string         `json:"user_id"`
	UnitID    string         `json:"unit_id"`
	Quantity  int            `json:"quantity"`
	Items     map[string]int `json:"items"`
	Total     int64          `json:"total"`
	Currency  string         `json:"currency"`
}

type BookingCancelled struct {
	Header           EventHeader  `json:"header"`
	BookingID        string       `json:"booking_id"`
	UnitID           string       `json:"unit_id"`
	Quantity         int          `json:"quantity"`
	Reason           CancelReason `json:"reason"`
	WasPaid          bool         `json:"was_paid"`
	CapacityReleased bool         `json:"capacity_released"`
}

type BookingPaid struct {
	Header     EventHeader `json:"header"`
	BookingID  string      `json:"booking_id"`
	UserID     string      `json:"user_id"`
	UnitID     string      `json:"unit_id"`
	Quantity   int         `json:"quantity"`
	Total      int64       `json:"total"`
	Currency   string      `json:"currency"`
	SessionRef string      `json:"session_ref"`
	PaidAt     time.Time   `json:"paid_at"`
}

type TicketRedeemed struct {
	Header     EventHeader `json:"header"`
	BookingID  string      `json:"booking_id"`
	UnitID     string      `json:"unit_id"`
	RedeemedBy string      `json:"redeemed_by"`
	RedeemedAt time.Time   `json:"redeemed_at"`
}

type TicketPrinted struct {
	Header    EventHeader `json:"header"`
	BookingID string      `json:"booking_id"`
	FileName  string      `json:"file_name"`
}
