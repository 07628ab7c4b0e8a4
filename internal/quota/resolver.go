package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/reactor/internal/database/types"
	"go.uber.org/zap"
)

// Tier is the access level an actor's budget is derived from.
type Tier int

const (
	TierRegular Tier = iota
	TierPremium
	TierAdmin
)

// String returns the display name of the tier.
func (t Tier) String() string {
	switch t {
	case TierAdmin:
		return "Admin"
	case TierPremium:
		return "Premium"
	default:
		return "Regular"
	}
}

// ActorReader is the subset of the actor store the resolver needs.
type ActorReader interface {
	Get(ctx context.Context, id int64) (*types.Actor, error)
	ClearExpiredSubscription(ctx context.Context, id int64, now time.Time) (bool, error)
}

// Resolver maps actors to their per-window reaction budget.
type Resolver struct {
	actors ActorReader
	admins map[int64]struct{}
	high   int
	low    int
	logger *zap.Logger
}

// NewResolver creates a Resolver with a static admin allow-list.
func NewResolver(actors ActorReader, adminIDs []int64, highBudget, lowBudget int, logger *zap.Logger) *Resolver {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}

	return &Resolver{
		actors: actors,
		admins: admins,
		high:   highBudget,
		low:    lowBudget,
		logger: logger.Named("quota_resolver"),
	}
}

// IsAdmin reports whether the actor is on the static allow-list.
func (r *Resolver) IsAdmin(actorID int64) bool {
	_, ok := r.admins[actorID]
	return ok
}

// Tier resolves the actor's tier. Expired subscriptions are cleared as a side effect.
// On a lookup error the regular tier is returned along with the error.
func (r *Resolver) Tier(ctx context.Context, actorID int64) (Tier, error) {
	if r.IsAdmin(actorID) {
		return TierAdmin, nil
	}

	actor, err := r.actors.Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, types.ErrActorNotFound) {
			return TierRegular, nil
		}
		return TierRegular, fmt.Errorf("failed to resolve tier: %w", err)
	}

	if !actor.Subscribed {
		return TierRegular, nil
	}

	now := time.Now()
	if actor.SubscriptionActive(now) {
		return TierPremium, nil
	}

	// Lazy downgrade; the store only clears rows that are still expired
	changed, err := r.actors.ClearExpiredSubscription(ctx, actorID, now)
	if err != nil {
		r.logger.Error("Failed to clear expired subscription",
			zap.Int64("actorID", actorID),
			zap.Error(err))
	} else if changed {
		r.logger.Info("Subscription expired",
			zap.Int64("actorID", actorID),
			zap.Timep("expiredAt", actor.SubscriptionExpiresAt))
	}

	return TierRegular, nil
}

// Budget returns the reaction budget per target per window for the actor.
func (r *Resolver) Budget(ctx context.Context, actorID int64) (int, error) {
	tier, err := r.Tier(ctx, actorID)
	if err != nil {
		return r.low, err
	}

	return r.BudgetFor(tier), nil
}

// BudgetFor returns the budget for a tier.
func (r *Resolver) BudgetFor(tier Tier) int {
	if tier == TierRegular {
		return r.low
	}

	return r.high
}
