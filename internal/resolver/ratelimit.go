package resolver

import (
	"context"
	"sync"
	"time"
)

// sourceLimiter enforces minimum inter-request spacing per source. Each
// source is limited independently so a strict source cannot starve attempts
// against the others.
type sourceLimiter struct {
	spacing time.Duration

	mu   sync.Mutex
	next map[string]time.Time
}

func newSourceLimiter(spacing time.Duration) *sourceLimiter {
	return &sourceLimiter{spacing: spacing, next: make(map[string]time.Time)}
}

// wait blocks until the source's spacing window opens or the context ends.
func (l *sourceLimiter) wait(ctx context.Context, sourceID string) error {
	if l.spacing <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	earliest := l.next[sourceID]
	if earliest.Before(now) {
		earliest = now
	}
	l.next[sourceID] = earliest.Add(l.spacing)
	l.mu.Unlock()

	delay := time.Until(earliest)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
