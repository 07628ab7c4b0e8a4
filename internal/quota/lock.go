package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"github.com/robalyx/reactor/internal/database/types"
	"go.uber.org/zap"
)

const lockKeyPrefix = "reaction_lock:"

var (
	errLockHeld = errors.New("lock held")

	// ErrLockLost is the cause of a held context canceled because the lock
	// expired or was taken over while held.
	ErrLockLost = errors.New("target lock lost")
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only while the key still holds our token.
var renewScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// TargetLock serializes check, dispatch and ledger append per (actor, target)
// across every process sharing the Redis database. Holders in the same process
// also queue on a local lock, so they stay serialized even if the Redis key
// expires. The Redis key is renewed for as long as it is held.
type TargetLock struct {
	client rueidis.Client
	ttl    time.Duration
	wait   time.Duration
	local  *keyedMutex
	logger *zap.Logger
}

// NewTargetLock creates a TargetLock. ttl bounds how long a crashed holder blocks
// the pair and wait bounds how long Acquire retries.
func NewTargetLock(client rueidis.Client, ttl, wait time.Duration, logger *zap.Logger) *TargetLock {
	return &TargetLock{
		client: client,
		ttl:    ttl,
		wait:   wait,
		local:  newKeyedMutex(),
		logger: logger.Named("target_lock"),
	}
}

// Acquire blocks until the lock is held, the wait bound passes (ErrTargetBusy)
// or ctx is done. The returned context is canceled with ErrLockLost if the lock
// is lost while held, and on release. The release function is safe to call once
// the request context is canceled.
func (l *TargetLock) Acquire(
	ctx context.Context, actorID int64, target types.Target,
) (context.Context, func(), error) {
	key := lockKey(actorID, target)
	deadline := time.Now().Add(l.wait)

	unlockLocal, err := l.local.lock(ctx, key, l.wait)
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return nil, nil, fmt.Errorf("%w: %s", ErrTargetBusy, target)
		}
		return nil, nil, err
	}

	token := uuid.NewString()
	if err := l.acquireRemote(ctx, key, token, time.Until(deadline)); err != nil {
		unlockLocal()
		if errors.Is(err, errLockHeld) {
			return nil, nil, fmt.Errorf("%w: %s", ErrTargetBusy, target)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, fmt.Errorf("failed to acquire target lock: %w", err)
	}

	heldCtx, cancelHeld := context.WithCancelCause(ctx)
	stopWatchdog := make(chan struct{})
	watchdogDone := make(chan struct{})

	go func() {
		defer close(watchdogDone)
		l.watchdog(ctx, key, token, stopWatchdog, cancelHeld)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stopWatchdog)
			<-watchdogDone
			cancelHeld(nil)

			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			err := releaseScript.Exec(releaseCtx, l.client, []string{key}, []string{token}).Error()
			if err != nil {
				l.logger.Warn("Failed to release target lock",
					zap.String("key", key),
					zap.Error(err))
			}

			unlockLocal()
		})
	}

	return heldCtx, release, nil
}

func (l *TargetLock) acquireRemote(ctx context.Context, key, token string, wait time.Duration) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(500*time.Millisecond),
		backoff.WithMaxElapsedTime(max(wait, time.Millisecond)),
	)

	return backoff.Retry(func() error {
		err := l.client.Do(ctx, l.client.B().Set().
			Key(key).
			Value(token).
			Nx().
			PxMilliseconds(l.ttl.Milliseconds()).
			Build()).Error()
		if rueidis.IsRedisNil(err) {
			return errLockHeld
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// watchdog renews the key every third of its TTL until stopped. When the token
// no longer matches, or renewals keep failing past the TTL, the held context is
// canceled so no further work is done under a lock that is gone.
func (l *TargetLock) watchdog(
	ctx context.Context, key, token string, stop <-chan struct{}, lost context.CancelCauseFunc,
) {
	interval := max(l.ttl/3, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ttl := strconv.FormatInt(l.ttl.Milliseconds(), 10)
	lastRenewed := time.Now()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		renewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interval)
		renewed, err := renewScript.Exec(renewCtx, l.client, []string{key}, []string{token, ttl}).AsInt64()
		cancel()

		switch {
		case err != nil:
			l.logger.Warn("Failed to renew target lock", zap.String("key", key), zap.Error(err))
			if time.Since(lastRenewed) < l.ttl {
				continue
			}
		case renewed == 1:
			lastRenewed = time.Now()
			continue
		}

		l.logger.Error("Target lock lost while held", zap.String("key", key))
		lost(ErrLockLost)
		return
	}
}

func lockKey(actorID int64, target types.Target) string {
	return lockKeyPrefix + strconv.FormatInt(actorID, 10) + ":" + target.String()
}

// keyedMutex is a per-key mutex whose entries are dropped once unused.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	slot chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*keyedEntry)}
}

// lock waits up to wait for key. It returns errLockHeld on timeout.
func (m *keyedMutex) lock(ctx context.Context, key string, wait time.Duration) (func(), error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &keyedEntry{slot: make(chan struct{}, 1)}
		m.entries[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case entry.slot <- struct{}{}:
		return func() {
			<-entry.slot
			m.drop(key, entry)
		}, nil
	case <-timer.C:
		m.drop(key, entry)
		return nil, errLockHeld
	case <-ctx.Done():
		m.drop(key, entry)
		return nil, ctx.Err()
	}
}

func (m *keyedMutex) drop(key string, entry *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(m.entries, key)
	}
}
