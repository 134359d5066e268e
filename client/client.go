// Package client is a Go client of the venue HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/lithammer/shortuuid/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"venue/entity"
)

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Remaining  *int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue api: %d %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status of err, or 0 when err is not an
// APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New returns a client authenticated with a bearer token. An empty token
// only allows the public endpoints.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}
}

// WithToken returns a copy of c using another bearer token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

type CreateUnitRequest struct {
	Kind            entity.UnitKind  `json:"kind"`
	Title           string           `json:"title"`
	ManagerID       string           `json:"manager_id,omitempty"`
	ProductID       string           `json:"product_id,omitempty"`
	Day             string           `json:"day,omitempty"`
	StartsAt        time.Time        `json:"starts_at,omitempty"`
	EndsAt          time.Time        `json:"ends_at,omitempty"`
	Prices          map[string]int64 `json:"prices"`
	DiscountPercent int              `json:"discount_percent,omitempty"`
	Currency        string           `json:"currency,omitempty"`
	Capacity        int              `json:"capacity"`
}

type Unit struct {
	entity.Unit
	Remaining int `json:"remaining"`
}

type CreateBookingRequest struct {
	UnitID        string         `json:"unit_id"`
	Quantity      int            `json:"quantity,omitempty"`
	Items         map[string]int `json:"items,omitempty"`
	ExpectedTotal *int64         `json:"expected_total,omitempty"`
	// IdempotencyKey is sent as the Idempotency-Key header.
	IdempotencyKey string `json:"-"`
}

type Booking struct {
	entity.Booking
	EffectiveStatus string `json:"effective_status,omitempty"`
	Remaining       *int   `json:"remaining,omitempty"`
}

type Checkout struct {
	CheckoutURL string    `json:"checkout_url"`
	SessionRef  string    `json:"session_ref"`
	ExpiresAt   time.Time `json:"expires_at"`
	Reused      bool      `json:"reused"`
}

type ConfirmResponse struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type PaymentStatus struct {
	BookingID       string               `json:"booking_id"`
	Status          entity.BookingStatus `json:"status"`
	PaymentStatus   entity.PaymentStatus `json:"payment_status"`
	EffectiveStatus string               `json:"effective_status"`
	Confirming      bool                 `json:"confirming"`
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) CreateUnit(ctx context.Context, req CreateUnitRequest) (Unit, error) {
	var unit Unit
	err := c.do(ctx, http.MethodPost, "/units", nil, req, &unit)
	return unit, err
}

func (c *Client) GetUnit(ctx context.Context, unitID string) (Unit, error) {
	var unit Unit
	err := c.do(ctx, http.MethodGet, "/units/"+unitID, nil, nil, &unit)
	return unit, err
}

func (c *Client) CreateBooking(ctx context.Context, req CreateBookingRequest) (Booking, error) {
	header := http.Header{}
	if req.IdempotencyKey != "" {
		header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	var booking Booking
	err := c.do(ctx, http.MethodPost, "/bookings", header, req, &booking)
	return booking, err
}

func (c *Client) ListBookings(ctx context.Context) ([]Booking, error) {
	var bookings []Booking
	err := c.do(ctx, http.MethodGet, "/bookings", nil, nil, &bookings)
	return bookings, err
}

func (c *Client) GetBooking(ctx context.Context, bookingID string) (Booking, error) {
	var booking Booking
	err := c.do(ctx, http.MethodGet, "/bookings/"+bookingID, nil, nil, &booking)
	return booking, err
}

func (c *Client) CancelBooking(ctx context.Context, bookingID string) (Booking, error) {
	var booking Booking
	err := c.do(ctx, http.MethodPatch, "/bookings/"+bookingID+"/cancel", nil, nil, &booking)
	return booking, err
}

// AdminCancelBooking cancels as a manager or admin. A nil releaseCapacity
// keeps the configured policy.
func (c *Client) AdminCancelBooking(ctx context.Context, bookingID string, releaseCapacity *bool) (Booking, error) {
	body := struct {
		ReleaseCapacity *bool `json:"release_capacity,omitempty"`
	}{releaseCapacity}

	var booking Booking
	err := c.do(ctx, http.MethodPost, "/bookings/"+bookingID+"/admin-cancel", nil, body, &booking)
	return booking, err
}

func (c *Client) BeginCheckout(ctx context.Context, bookingID string) (Checkout, error) {
	var checkout Checkout
	err := c.do(ctx, http.MethodPost, "/payments/checkout/"+bookingID, nil, nil, &checkout)
	return checkout, err
}

// ConfirmPayment reports the redirect back from the gateway. The status is
// "confirming" when the payment is reconciled in the background.
func (c *Client) ConfirmPayment(ctx context.Context, bookingID, sessionRef string) (ConfirmResponse, error) {
	body := struct {
		SessionRef string `json:"session_ref"`
	}{sessionRef}

	var resp ConfirmResponse
	err := c.do(ctx, http.MethodPost, "/payments/confirm/"+bookingID, nil, body, &resp)
	return resp, err
}

func (c *Client) PaymentStatus(ctx context.Context, bookingID string) (PaymentStatus, error) {
	var status PaymentStatus
	err := c.do(ctx, http.MethodGet, "/payments/status/"+bookingID, nil, nil, &status)
	return status, err
}

// SendWebhook posts a gateway callback, as the payment provider would.
func (c *Client) SendWebhook(ctx context.Context, callbackToken, sessionRef, bookingID string) error {
	header := http.Header{}
	header.Set("X-Callback-Token", callbackToken)

	body := struct {
		ID         string `json:"id"`
		ExternalID string `json:"external_id"`
		Status     string `json:"status"`
	}{sessionRef, bookingID, "PAID"}

	return c.do(ctx, http.MethodPost, "/payments/webhook", header, body, nil)
}

func (c *Client) TicketToken(ctx context.Context, bookingID string) (entity.TicketToken, error) {
	var token entity.TicketToken
	err := c.do(ctx, http.MethodGet, "/bookings/"+bookingID+"/ticket-token", nil, nil, &token)
	return token, err
}

// TicketQRCode returns the PNG encoding of the ticket token.
func (c *Client) TicketQRCode(ctx context.Context, bookingID string) ([]byte, error) {
	var png []byte
	err := c.do(ctx, http.MethodGet, "/bookings/"+bookingID+"/ticket.png", nil, nil, &png)
	return png, err
}

func (c *Client) VerifyTicket(ctx context.Context, token string) (entity.VerifyResult, error) {
	body := struct {
		Token string `json:"token"`
	}{token}

	var result entity.VerifyResult
	err := c.do(ctx, http.MethodPost, "/tickets/verify", nil, body, &result)
	return result, err
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	correlationID := log.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = shortuuid.New()
	}
	req.Header.Set("Correlation-ID", correlationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error     string `json:"error"`
			Message   string `json:"message"`
			Remaining *int   `json:"remaining"`
		}
		if json.Unmarshal(respBody, &errBody) == nil {
			apiErr.Message = errBody.Error
			if apiErr.Message == "" {
				apiErr.Message = errBody.Message
			}
			apiErr.Remaining = errBody.Remaining
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	switch out := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*out = respBody
		return nil
	default:
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("could not decode %s %s response: %w", method, path, err)
		}
		return nil
	}
}
