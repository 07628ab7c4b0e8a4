package database

import (
	"context"
	"time"

	"github.com/robalyx/reactor/internal/database/types"
)

// Client defines the methods that a database client must implement.
// Implementations live in the postgres and sqlite subpackages and are chosen once at startup.
type Client interface {
	// Actors returns the actor store.
	Actors() ActorStore
	// Channels returns the managed channel store.
	Channels() ChannelStore
	// Ledger returns the append-only reaction ledger.
	Ledger() LedgerStore
	// Queue returns the pending post queue.
	Queue() QueueStore
	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error
	// Close gracefully shuts down the database connection.
	Close() error
}

// ActorStore persists actors and their subscription state.
type ActorStore interface {
	// Get returns the actor or types.ErrActorNotFound.
	Get(ctx context.Context, id int64) (*types.Actor, error)
	// Ensure inserts the actor if it does not exist yet.
	Ensure(ctx context.Context, id int64, username string) error
	// GrantSubscription sets the subscription flag with the given expiry, creating the actor if needed.
	GrantSubscription(ctx context.Context, id int64, until time.Time) error
	// ClearExpiredSubscription clears the subscription only if it expired at or before now.
	// Reports whether a row changed; repeated calls are no-ops.
	ClearExpiredSubscription(ctx context.Context, id int64, now time.Time) (bool, error)
	// MarkVerified records a successful channel membership check.
	MarkVerified(ctx context.Context, id int64, at time.Time) error
	// Count returns the number of known actors.
	Count(ctx context.Context) (int, error)
	// CountSubscribed returns the number of actors with a subscription active at now.
	CountSubscribed(ctx context.Context, now time.Time) (int, error)
}

// ChannelStore persists managed channels.
type ChannelStore interface {
	// Register upserts the channel and marks it active.
	Register(ctx context.Context, channel *types.ManagedChannel) error
	// Get returns the channel or types.ErrChannelNotFound.
	Get(ctx context.Context, id int64) (*types.ManagedChannel, error)
	// ListActive returns all active channels ordered by registration time.
	ListActive(ctx context.Context) ([]*types.ManagedChannel, error)
	// SetAutoReact sets the auto-react toggle. Reports whether the channel exists.
	SetAutoReact(ctx context.Context, id int64, enabled bool) (bool, error)
	// ToggleAutoReact flips the auto-react toggle and returns the new value.
	ToggleAutoReact(ctx context.Context, id int64) (bool, error)
	// Deactivate soft-deletes the channel.
	Deactivate(ctx context.Context, id int64) error
}

// LedgerStore is the permanent insert-only record of applied reactions.
type LedgerStore interface {
	// Append inserts an event and returns its ID.
	Append(ctx context.Context, event *types.ReactionEvent) (int64, error)
	// UsedInWindow sums applied counts of active events for the pair at or after since.
	UsedInWindow(ctx context.Context, actorID int64, target types.Target, since time.Time) (int, error)
	// TotalApplied sums applied counts across all events.
	TotalApplied(ctx context.Context) (int64, error)
	// TotalAppliedByActor sums applied counts for one actor.
	TotalAppliedByActor(ctx context.Context, actorID int64) (int64, error)
}

// QueueStore persists posts awaiting automatic reactions.
type QueueStore interface {
	// Enqueue inserts the post unless it is already queued. Reports whether a row was inserted.
	Enqueue(ctx context.Context, target types.Target, at time.Time) (bool, error)
	// Pending returns unprocessed items on active auto-react channels after the cursor,
	// ordered by (discovered_at, id).
	Pending(ctx context.Context, after types.Cursor, limit int) ([]*types.PendingPost, error)
	// MarkProcessed flips an unprocessed item to processed. Reports whether a row changed.
	MarkProcessed(ctx context.Context, id int64, applied int, ledgerID *int64) (bool, error)
	// PurgeOlderThan deletes up to limit items discovered before cutoff and returns the count.
	PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error)
	// CountProcessed returns the number of processed items still retained.
	CountProcessed(ctx context.Context) (int, error)
}
