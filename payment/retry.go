package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"venue/entity"
)

// callGateway runs op with a per attempt timeout. Only unavailability is
// retried, with exponential backoff, up to retries extra attempts.
func (c *Coordinator) callGateway(ctx context.Context, retries int, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	b.MaxInterval = 10 * c.cfg.RetryInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(retries, 0))), ctx)

	return backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		err := op(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s", entity.ErrGatewayUnavailable, err.Error())
		}
		if !errors.Is(err, entity.ErrGatewayUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
