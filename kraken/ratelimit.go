package kraken

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	restCallsPerSecond = 15
	// Minimum spacing between signed calls. Requests fired closer
	// together than this can arrive out of order and trip the
	// exchange's nonce check.
	minCallSpacing = 100 * time.Millisecond
)

// pacer gates every REST call through a sliding-window limiter plus a
// minimum inter-call spacing. Process-wide: one pacer per client.
type pacer struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	lastCall time.Time
}

func newPacer() *pacer {
	return &pacer{
		limiter: rate.NewLimiter(rate.Limit(restCallsPerSecond), restCallsPerSecond),
	}
}

// Wait blocks until the next call is admitted or the context is done.
func (p *pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	now := time.Now()
	wait := minCallSpacing - now.Sub(p.lastCall)
	if wait < 0 {
		wait = 0
	}
	p.lastCall = now.Add(wait)
	p.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
