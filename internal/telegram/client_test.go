package telegram_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/robalyx/reactor/internal/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseMemberStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   telegram.MemberStatus
	}{
		{status: "creator", want: telegram.MemberJoined},
		{status: "administrator", want: telegram.MemberJoined},
		{status: "member", want: telegram.MemberJoined},
		{status: "restricted", want: telegram.MemberJoined},
		{status: "left", want: telegram.MemberLeft},
		{status: "kicked", want: telegram.MemberKicked},
		{status: "", want: telegram.MemberUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, telegram.ParseMemberStatus(tt.status))
		})
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := telegram.NewClient(&config.Telegram{}, &config.CircuitBreaker{}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, telegram.ErrMissingToken)
}

func TestAPICallsBoundedByRequestTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/setMessageReaction") {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Second):
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Reactor","username":"reactor_bot"}}`))
	}))
	t.Cleanup(server.Close)

	client, err := telegram.NewClient(&config.Telegram{
		Token:          "token",
		Endpoint:       server.URL + "/bot%s/%s",
		RequestTimeout: 100,
		PollTimeout:    60,
	}, &config.CircuitBreaker{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "reactor_bot", client.Username())

	start := time.Now()
	err = client.SetReaction(t.Context(), types.Target{SurfaceID: -100, PostID: 1}, []string{"👍"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
