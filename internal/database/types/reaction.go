package types

import (
	"strconv"
	"time"
)

// Target identifies a single post on a surface.
type Target struct {
	SurfaceID int64
	PostID    int64
}

// String returns the target as "surface/post".
func (t Target) String() string {
	return strconv.FormatInt(t.SurfaceID, 10) + "/" + strconv.FormatInt(t.PostID, 10)
}

// ReactionEvent is an immutable ledger entry. Rows are inserted once and
// never updated or deleted. RequestID, when set, makes Append idempotent so a
// retried insert whose first commit landed does not count twice.
type ReactionEvent struct {
	ID           int64     `bun:",pk,autoincrement"`
	RequestID    string    `bun:",nullzero,unique"`
	ActorID      int64     `bun:",notnull"`
	SurfaceID    int64     `bun:",notnull"`
	PostID       int64     `bun:",notnull"`
	Symbols      []string  `bun:",notnull"`
	AppliedCount int       `bun:",notnull"`
	AppliedAt    time.Time `bun:",notnull"`
	Active       bool      `bun:",notnull"`
}

// Target returns the post this event applies to.
func (e *ReactionEvent) Target() Target {
	return Target{SurfaceID: e.SurfaceID, PostID: e.PostID}
}

// PendingPost is a queued channel post awaiting automatic reactions.
// The (surface, post) pair is unique.
type PendingPost struct {
	ID           int64     `bun:",pk,autoincrement"`
	SurfaceID    int64     `bun:",notnull,unique:pending_posts_surface_post"`
	PostID       int64     `bun:",notnull,unique:pending_posts_surface_post"`
	DiscoveredAt time.Time `bun:",notnull"`
	Processed    bool      `bun:",notnull"`
	AppliedCount int       `bun:",notnull"`
	LedgerID     *int64    `bun:",nullzero"`
}

// Target returns the post this item refers to.
func (p *PendingPost) Target() Target {
	return Target{SurfaceID: p.SurfaceID, PostID: p.PostID}
}

// Cursor returns the keyset position just after this item.
func (p *PendingPost) Cursor() Cursor {
	return Cursor{DiscoveredAt: p.DiscoveredAt, ID: p.ID}
}

// Cursor is a keyset pagination position over (discovered_at, id).
// The zero value starts from the beginning.
type Cursor struct {
	DiscoveredAt time.Time
	ID           int64
}
