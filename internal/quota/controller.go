package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/reactor/internal/database/types"
	"go.uber.org/zap"
)

// UsageReader sums ledger usage for an (actor, target) pair.
type UsageReader interface {
	UsedInWindow(ctx context.Context, actorID int64, target types.Target, since time.Time) (int, error)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Budget    int
	Used      int
	Requested int
}

// Remaining returns the reactions still available before this request.
func (d Decision) Remaining() int {
	return max(d.Budget-d.Used, 0)
}

// Err returns a DeniedError for rejected decisions and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}

	return &DeniedError{Budget: d.Budget, Used: d.Used, Requested: d.Requested}
}

// Controller admits or rejects reaction requests against the rolling window budget.
type Controller struct {
	resolver *Resolver
	usage    UsageReader
	window   time.Duration
	logger   *zap.Logger
}

// NewController creates a Controller.
func NewController(resolver *Resolver, usage UsageReader, window time.Duration, logger *zap.Logger) *Controller {
	return &Controller{
		resolver: resolver,
		usage:    usage,
		window:   window,
		logger:   logger.Named("quota_controller"),
	}
}

// Window returns the rolling window length.
func (c *Controller) Window() time.Duration {
	return c.window
}

// Check resolves the budget and the usage inside the window and decides
// whether used + requested fits the budget.
func (c *Controller) Check(ctx context.Context, actorID int64, target types.Target, requested int) (Decision, error) {
	if requested < 0 {
		return Decision{}, fmt.Errorf("%w: %d", ErrInvalidCount, requested)
	}

	budget, err := c.resolver.Budget(ctx, actorID)
	if err != nil {
		return Decision{}, err
	}

	used, err := c.usage.UsedInWindow(ctx, actorID, target, time.Now().Add(-c.window))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read window usage: %w", err)
	}

	return Decision{
		Allowed:   used+requested <= budget,
		Budget:    budget,
		Used:      used,
		Requested: requested,
	}, nil
}

// CanAdmit reports whether the request fits the budget. Any lookup error denies.
func (c *Controller) CanAdmit(ctx context.Context, actorID int64, target types.Target, requested int) bool {
	decision, err := c.Check(ctx, actorID, target, requested)
	if err != nil {
		c.logger.Error("Admission check failed, denying",
			zap.Int64("actorID", actorID),
			zap.Stringer("target", target),
			zap.Int("requested", requested),
			zap.Error(err))
		return false
	}

	return decision.Allowed
}
