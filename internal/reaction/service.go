package reaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/dispatch"
	"github.com/robalyx/reactor/internal/metrics"
	"github.com/robalyx/reactor/internal/quota"
	"go.uber.org/zap"
)

// ErrLedgerAppend is returned when reactions were applied but could not be recorded.
var ErrLedgerAppend = errors.New("failed to record applied reactions")

// Admitter decides whether a request fits the actor's budget.
type Admitter interface {
	Check(ctx context.Context, actorID int64, target types.Target, requested int) (quota.Decision, error)
}

// Dispatcher delivers reactions.
type Dispatcher interface {
	Ceiling() int
	Dispatch(ctx context.Context, target types.Target, requested int) dispatch.Result
}

// Locker serializes requests per (actor, target). The returned context is
// canceled if the lock is lost before release.
type Locker interface {
	Acquire(ctx context.Context, actorID int64, target types.Target) (context.Context, func(), error)
}

// Ledger records applied reactions.
type Ledger interface {
	Append(ctx context.Context, event *types.ReactionEvent) (int64, error)
}

// Outcome describes a completed reaction request.
type Outcome struct {
	Decision quota.Decision
	Applied  int
	Symbols  []string
	Failed   int
	LedgerID *int64
}

// UsedAfter returns the window usage including this request.
func (o *Outcome) UsedAfter() int {
	return o.Decision.Used + o.Applied
}

// Service runs the full admit, dispatch, record sequence for one request.
type Service struct {
	admitter   Admitter
	dispatcher Dispatcher
	locker     Locker
	ledger     Ledger
	metrics    *metrics.Accumulator
	logger     *zap.Logger
}

// NewService creates a Service. A nil locker leaves concurrent requests on the
// same target unserialized.
func NewService(
	admitter Admitter, dispatcher Dispatcher, locker Locker, ledger Ledger,
	acc *metrics.Accumulator, logger *zap.Logger,
) *Service {
	return &Service{
		admitter:   admitter,
		dispatcher: dispatcher,
		locker:     locker,
		ledger:     ledger,
		metrics:    acc,
		logger:     logger.Named("reaction_service"),
	}
}

// React applies up to requested reactions to the target on behalf of the actor.
// The request is clamped to the dispatch ceiling before admission. A denial is
// returned as a *quota.DeniedError together with the outcome carrying the decision.
func (s *Service) React(ctx context.Context, actorID int64, target types.Target, requested int) (*Outcome, error) {
	if requested <= 0 {
		return nil, fmt.Errorf("%w: %d", quota.ErrInvalidCount, requested)
	}

	requested = min(requested, s.dispatcher.Ceiling())

	// Dispatch runs under the held context so a lost lock stops further batches
	held := ctx
	if s.locker != nil {
		lockCtx, release, err := s.locker.Acquire(ctx, actorID, target)
		if err != nil {
			return nil, err
		}
		defer release()
		held = lockCtx
	}

	decision, err := s.admitter.Check(held, actorID, target, requested)
	if err != nil {
		return nil, fmt.Errorf("admission check failed: %w", err)
	}

	outcome := &Outcome{Decision: decision}
	if !decision.Allowed {
		return outcome, decision.Err()
	}

	result := s.dispatcher.Dispatch(held, target, requested)
	outcome.Applied = result.Applied
	outcome.Symbols = result.Symbols
	outcome.Failed = result.Failed

	if result.Applied == 0 {
		return outcome, nil
	}

	s.metrics.AddReactions(result.Applied)

	// Record what was delivered, not what was asked for
	id, err := s.ledger.Append(context.WithoutCancel(ctx), &types.ReactionEvent{
		RequestID:    uuid.NewString(),
		ActorID:      actorID,
		SurfaceID:    target.SurfaceID,
		PostID:       target.PostID,
		Symbols:      result.Symbols,
		AppliedCount: result.Applied,
		AppliedAt:    time.Now(),
		Active:       true,
	})
	if err != nil {
		s.logger.Error("Failed to append reaction event",
			zap.Int64("actorID", actorID),
			zap.Stringer("target", target),
			zap.Int("applied", result.Applied),
			zap.Error(err))
		return outcome, fmt.Errorf("%w: %w", ErrLedgerAppend, err)
	}

	outcome.LedgerID = &id

	s.logger.Info("Applied reactions",
		zap.Int64("actorID", actorID),
		zap.Stringer("target", target),
		zap.Int("requested", requested),
		zap.Int("applied", result.Applied),
		zap.Int64("ledgerID", id))

	return outcome, nil
}
