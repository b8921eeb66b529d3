package kraken

import (
	"context"
	"time"

	"autosell/logger"
)

// RetryPolicy is the single retry configuration shared by every client
// operation. Backoff is linear: attempt × BaseDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the exchange's tolerance for repeated
// signed calls.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}

// Do runs fn until it succeeds, fails non-retryably, or the attempt
// budget is exhausted. The last error is returned unmodified so the
// caller keeps the typed kind.
func (p RetryPolicy) Do(ctx context.Context, log *logger.Entry, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !Retryable(err) || attempt == attempts {
			return err
		}

		delay := time.Duration(attempt) * p.BaseDelay
		log.WithError(err).WithFields(logger.Fields{
			"operation": op,
			"attempt":   attempt,
			"delay":     delay.String(),
		}).Warn("retrying after transient failure")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
