package booking

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
)

type expirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// Sweeper periodically cancels pending bookings whose unit has ended and
// returns their capacity to the ledger.
type Sweeper struct {
	bookings  expirer
	interval  time.Duration
	batchSize int
}

func NewSweeper(bookings expirer, interval time.Duration) *Sweeper {
	if bookings == nil {
		panic("missing bookings")
	}
	if interval <= 0 {
		interval = time.Minute
	}

	return &Sweeper{bookings: bookings, interval: interval, batchSize: 100}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.FromContext(ctx).WithField("interval", s.interval).Info("Expiry sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.FromContext(ctx).Info("Expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires overdue bookings batch by batch until none are left.
func (s *Sweeper) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := s.bookings.ExpireDue(ctx, s.batchSize)
		total += n
		if err != nil {
			log.FromContext(ctx).WithError(err).Error("Failed to expire bookings")
			return total
		}
		if n < s.batchSize {
			return total
		}
	}
	return total
}
