package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"venue/entity"
)

var ErrPaymentNotSettled = errors.New("payment not settled")

type WaitConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
}

func (c WaitConfig) withDefaults() WaitConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 8 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	return c
}

// WaitForPayment polls the payment status with increasing delays until the
// booking is paid or cancelled. Every poll lets the server ask the gateway
// once, so this converges even when redirect and webhook were both lost.
func (c *Client) WaitForPayment(ctx context.Context, bookingID string, cfg WaitConfig) (PaymentStatus, error) {
	cfg = cfg.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.MaxElapsedTime = 0

	var last PaymentStatus
	operation := func() error {
		status, err := c.PaymentStatus(ctx, bookingID)
		if err != nil {
			switch StatusCode(err) {
			case http.StatusServiceUnavailable, http.StatusAccepted, 0:
				return err
			}
			return backoff.Permanent(err)
		}
		last = status

		if status.PaymentStatus == entity.PaymentStatusPaid {
			return nil
		}
		if status.Status == entity.BookingStatusCancelled || status.EffectiveStatus == entity.EffectiveStatusExpired {
			return backoff.Permanent(fmt.Errorf("booking %s is %s", bookingID, status.EffectiveStatus))
		}
		return ErrPaymentNotSettled
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, cfg.MaxAttempts-1), ctx))
	return last, err
}
