package membership

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/robalyx/reactor/internal/telegram"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "membership:"

// Lookup reports a user's membership in a channel.
type Lookup interface {
	MemberStatus(ctx context.Context, channel string, userID int64) (telegram.MemberStatus, error)
}

// ActorStore reads and stamps verification state.
type ActorStore interface {
	Get(ctx context.Context, id int64) (*types.Actor, error)
	MarkVerified(ctx context.Context, id int64, at time.Time) error
}

// Options configures a Verifier.
type Options struct {
	Channels []config.RequiredChannel
	CacheTTL time.Duration
	Reverify time.Duration
}

// Verifier gates features behind membership in the required channels.
type Verifier struct {
	lookup   Lookup
	actors   ActorStore
	cache    rueidis.Client
	channels []config.RequiredChannel
	cacheTTL time.Duration
	reverify time.Duration
	group    singleflight.Group
	logger   *zap.Logger
}

// NewVerifier creates a Verifier. A nil cache disables result caching.
func NewVerifier(lookup Lookup, actors ActorStore, cache rueidis.Client, opts Options, logger *zap.Logger) *Verifier {
	if opts.Reverify <= 0 {
		opts.Reverify = 24 * time.Hour
	}

	return &Verifier{
		lookup:   lookup,
		actors:   actors,
		cache:    cache,
		channels: opts.Channels,
		cacheTTL: opts.CacheTTL,
		reverify: opts.Reverify,
		logger:   logger.Named("membership"),
	}
}

// Channels returns the required channels.
func (v *Verifier) Channels() []config.RequiredChannel {
	return v.channels
}

// Check reports whether the user is in every required channel. Any lookup
// error yields false together with the error.
func (v *Verifier) Check(ctx context.Context, userID int64) (bool, error) {
	if len(v.channels) == 0 {
		return true, nil
	}

	if joined, ok := v.cached(ctx, userID); ok {
		return joined, nil
	}

	key := strconv.FormatInt(userID, 10)
	result, err, _ := v.group.Do(key, func() (any, error) {
		joined, err := v.checkAll(ctx, userID)
		if err != nil {
			return false, err
		}

		v.store(ctx, userID, joined)
		return joined, nil
	})
	if err != nil {
		return false, err
	}

	return result.(bool), nil
}

// Require checks membership only when the stored verification is missing or
// older than the re-verify interval, and stamps a fresh verification.
func (v *Verifier) Require(ctx context.Context, userID int64) (bool, error) {
	now := time.Now()

	actor, err := v.actors.Get(ctx, userID)
	switch {
	case err == nil:
		if actor.VerifiedAt != nil && now.Sub(*actor.VerifiedAt) < v.reverify {
			return true, nil
		}
	case !errors.Is(err, types.ErrActorNotFound):
		return false, fmt.Errorf("failed to load actor: %w", err)
	}

	joined, err := v.Check(ctx, userID)
	if err != nil || !joined {
		return false, err
	}

	if err := v.actors.MarkVerified(ctx, userID, now); err != nil {
		v.logger.Error("Failed to mark actor verified", zap.Int64("userID", userID), zap.Error(err))
	}

	return true, nil
}

// Invalidate drops the cached result so the next check asks Telegram again.
func (v *Verifier) Invalidate(ctx context.Context, userID int64) {
	if v.cache == nil {
		return
	}

	err := v.cache.Do(ctx, v.cache.B().Del().Key(cacheKey(userID)).Build()).Error()
	if err != nil {
		v.logger.Warn("Failed to invalidate membership cache", zap.Int64("userID", userID), zap.Error(err))
	}
}

// checkAll queries every required channel concurrently. The first failure
// cancels the remaining lookups.
func (v *Verifier) checkAll(ctx context.Context, userID int64) (bool, error) {
	p := pool.NewWithResults[bool]().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for _, channel := range v.channels {
		p.Go(func(ctx context.Context) (bool, error) {
			status, err := v.lookup.MemberStatus(ctx, channel.Username, userID)
			if err != nil {
				return false, fmt.Errorf("failed to check %s: %w", channel.Username, err)
			}

			switch status {
			case telegram.MemberLeft, telegram.MemberKicked:
				return false, nil
			default:
				return true, nil
			}
		})
	}

	results, err := p.Wait()
	if err != nil {
		v.logger.Warn("Membership check failed", zap.Int64("userID", userID), zap.Error(err))
		return false, err
	}

	for _, joined := range results {
		if !joined {
			return false, nil
		}
	}

	return true, nil
}

func (v *Verifier) cached(ctx context.Context, userID int64) (bool, bool) {
	if v.cache == nil || v.cacheTTL <= 0 {
		return false, false
	}

	value, err := v.cache.Do(ctx, v.cache.B().Get().Key(cacheKey(userID)).Build()).ToString()
	if err != nil {
		if !rueidis.IsRedisNil(err) {
			v.logger.Warn("Failed to read membership cache", zap.Int64("userID", userID), zap.Error(err))
		}
		return false, false
	}

	return value == "1", true
}

func (v *Verifier) store(ctx context.Context, userID int64, joined bool) {
	if v.cache == nil || v.cacheTTL <= 0 {
		return
	}

	value := "0"
	if joined {
		value = "1"
	}

	err := v.cache.Do(ctx, v.cache.B().Set().Key(cacheKey(userID)).Value(value).Ex(v.cacheTTL).Build()).Error()
	if err != nil {
		v.logger.Warn("Failed to write membership cache", zap.Int64("userID", userID), zap.Error(err))
	}
}

func cacheKey(userID int64) string {
	return cacheKeyPrefix + strconv.FormatInt(userID, 10)
}
