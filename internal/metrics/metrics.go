package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalReactions  int64
	TotalPosts      int64
	StartedAt       time.Time
	Uptime          time.Duration
	LastHealthCheck time.Time
}

// Accumulator holds process counters. It is created once and passed to the
// components that update it and to the liveness endpoint that reads it.
type Accumulator struct {
	reactions       atomic.Int64
	posts           atomic.Int64
	lastHealthCheck atomic.Int64
	startedAt       time.Time
}

// NewAccumulator creates an Accumulator starting now.
func NewAccumulator() *Accumulator {
	return &Accumulator{startedAt: time.Now()}
}

// AddReactions records applied reactions.
func (a *Accumulator) AddReactions(n int) {
	if n > 0 {
		a.reactions.Add(int64(n))
	}
}

// IncPosts records one processed post.
func (a *Accumulator) IncPosts() {
	a.posts.Add(1)
}

// MarkHealthCheck records a successful health check.
func (a *Accumulator) MarkHealthCheck(at time.Time) {
	a.lastHealthCheck.Store(at.UnixNano())
}

// TotalReactions returns the reactions applied since start.
func (a *Accumulator) TotalReactions() int64 {
	return a.reactions.Load()
}

// TotalPosts returns the posts processed since start.
func (a *Accumulator) TotalPosts() int64 {
	return a.posts.Load()
}

// Uptime returns the time since the accumulator was created.
func (a *Accumulator) Uptime() time.Duration {
	return time.Since(a.startedAt)
}

// LastHealthCheck returns the last successful health check, or the zero time.
func (a *Accumulator) LastHealthCheck() time.Time {
	ns := a.lastHealthCheck.Load()
	if ns == 0 {
		return time.Time{}
	}

	return time.Unix(0, ns)
}

// Snapshot returns all counters at once.
func (a *Accumulator) Snapshot() Snapshot {
	return Snapshot{
		TotalReactions:  a.TotalReactions(),
		TotalPosts:      a.TotalPosts(),
		StartedAt:       a.startedAt,
		Uptime:          a.Uptime(),
		LastHealthCheck: a.LastHealthCheck(),
	}
}
