package types

import (
	"errors"
	"time"
)

var (
	ErrActorNotFound   = errors.New("actor not found")
	ErrChannelNotFound = errors.New("channel not found")
)

// Actor is a Telegram user interacting with the bot.
// Rows are created lazily and never deleted.
type Actor struct {
	ID                    int64      `bun:",pk"`
	Username              string     `bun:",nullzero"`
	Subscribed            bool       `bun:",notnull"`
	SubscriptionExpiresAt *time.Time `bun:",nullzero"`
	VerifiedAt            *time.Time `bun:",nullzero"`
	CreatedAt             time.Time  `bun:",notnull"`
}

// SubscriptionActive reports whether the subscription flag is set and has not expired.
// A subscription without an expiry never lapses.
func (a *Actor) SubscriptionActive(now time.Time) bool {
	if !a.Subscribed {
		return false
	}

	return a.SubscriptionExpiresAt == nil || now.Before(*a.SubscriptionExpiresAt)
}

// ManagedChannel is a channel the bot was added to.
// Channels are soft-deactivated so their history stays intact.
type ManagedChannel struct {
	ID           int64     `bun:",pk"`
	Title        string    `bun:",notnull"`
	Username     string    `bun:",nullzero"`
	AutoReact    bool      `bun:",notnull"`
	Active       bool      `bun:",notnull"`
	RegisteredBy int64     `bun:",notnull"`
	RegisteredAt time.Time `bun:",notnull"`
}
