package rate

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Limiter spaces outgoing Telegram API calls by a base interval with random jitter.
// Slots are reserved under the lock so concurrent callers queue behind each other.
type Limiter struct {
	mu          sync.Mutex
	nextSlot    time.Time
	minInterval time.Duration
	maxJitter   time.Duration
}

// New creates a rate limiter with base interval and jitter.
// For example, baseInterval=500ms and jitter=100ms will result in delays between 400ms-600ms.
func New(baseInterval, jitter time.Duration) *Limiter {
	return &Limiter{
		nextSlot:    time.Now(),
		minInterval: baseInterval,
		maxJitter:   min(jitter, baseInterval),
	}
}

// WaitForNextSlot blocks until the caller's reserved slot arrives.
func (r *Limiter) WaitForNextSlot(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	slot := r.nextSlot
	if slot.Before(now) {
		slot = now
	}

	var jitterOffset time.Duration
	if r.maxJitter > 0 {
		jitterOffset = time.Duration(rand.Int64N(int64(r.maxJitter*2))) - r.maxJitter
	}
	r.nextSlot = slot.Add(r.minInterval + jitterOffset)
	r.mu.Unlock()

	waitDuration := time.Until(slot)
	if waitDuration <= 0 {
		return nil
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
