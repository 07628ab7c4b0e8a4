package types_test

import (
	"testing"
	"time"

	"github.com/robalyx/reactor/internal/database/types"
	"github.com/stretchr/testify/assert"
)

func TestSubscriptionActive(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name  string
		actor types.Actor
		want  bool
	}{
		{name: "not subscribed", actor: types.Actor{}, want: false},
		{name: "no expiry", actor: types.Actor{Subscribed: true}, want: true},
		{name: "expired", actor: types.Actor{Subscribed: true, SubscriptionExpiresAt: &past}, want: false},
		{name: "expires at now", actor: types.Actor{Subscribed: true, SubscriptionExpiresAt: &now}, want: false},
		{name: "active", actor: types.Actor{Subscribed: true, SubscriptionExpiresAt: &future}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.actor.SubscriptionActive(now))
		})
	}
}

func TestTargetString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-100123/7", types.Target{SurfaceID: -100123, PostID: 7}.String())
}
