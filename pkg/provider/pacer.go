package provider

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Pacer enforces a minimum spacing between outbound requests. It is shared by
// all callers of one client, so concurrent extractions still serialize their
// request budget.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewPacer returns a pacer with the given minimum inter-request interval.
// A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Reserve sleeps until the next request slot opens and claims it. The slot
// is claimed only once the wait has elapsed, so a caller cancelled mid-wait
// leaves the slot for the next caller. When the slot lies beyond the
// remaining context budget it fails fast with a rate-limited error carrying
// the wait as RetryAfter instead of blocking.
func (p *Pacer) Reserve(ctx context.Context, op string) error {
	if p == nil || p.interval <= 0 {
		return nil
	}
	for {
		p.mu.Lock()
		now := time.Now()
		wait := p.next.Sub(now)
		if wait <= 0 {
			p.next = now.Add(p.interval)
			p.mu.Unlock()
			return nil
		}
		if deadline, ok := ctx.Deadline(); ok && now.Add(wait).After(deadline) {
			p.mu.Unlock()
			return &Error{
				Kind:       KindRateLimited,
				Op:         op,
				RetryAfter: wait,
				Err:        errors.New("request spacing exceeds remaining context budget"),
			}
		}
		p.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Another waiter may have claimed the slot; re-check.
		}
	}
}
