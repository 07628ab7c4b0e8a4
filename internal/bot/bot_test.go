package bot_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robalyx/reactor/internal/bot"
	"github.com/robalyx/reactor/internal/bot/constants"
	"github.com/robalyx/reactor/internal/database/sqlite"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/intake"
	"github.com/robalyx/reactor/internal/metrics"
	"github.com/robalyx/reactor/internal/quota"
	"github.com/robalyx/reactor/internal/reaction"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	adminID = int64(1)
	userID  = int64(5)
)

type sent struct {
	chatID int64
	text   string
	edit   bool
}

type fakeAPI struct {
	mu       sync.Mutex
	messages []sent
	answered []string
}

func (f *fakeAPI) Send(_ context.Context, msg tgbotapi.Chattable) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch m := msg.(type) {
	case tgbotapi.MessageConfig:
		f.messages = append(f.messages, sent{chatID: m.ChatID, text: m.Text})
	case tgbotapi.EditMessageTextConfig:
		f.messages = append(f.messages, sent{chatID: m.ChatID, text: m.Text, edit: true})
	}
	return nil
}

func (f *fakeAPI) Request(_ context.Context, req tgbotapi.Chattable) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := req.(tgbotapi.CallbackConfig); ok {
		f.answered = append(f.answered, cb.CallbackQueryID)
	}
	return nil
}

func (f *fakeAPI) last(t *testing.T) sent {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	require.NotEmpty(t, f.messages)
	return f.messages[len(f.messages)-1]
}

type fakeGate struct {
	joined bool
}

func (f *fakeGate) Require(context.Context, int64) (bool, error) { return f.joined, nil }
func (f *fakeGate) Check(context.Context, int64) (bool, error)   { return f.joined, nil }
func (f *fakeGate) Invalidate(context.Context, int64)            {}
func (f *fakeGate) Channels() []config.RequiredChannel {
	return []config.RequiredChannel{{Username: "@news", URL: "https://t.me/news", Title: "News"}}
}

type reactCall struct {
	actorID int64
	target  types.Target
	count   int
}

type fakeReactor struct {
	mu      sync.Mutex
	outcome *reaction.Outcome
	err     error
	calls   []reactCall
}

func (f *fakeReactor) React(_ context.Context, actorID int64, target types.Target, n int) (*reaction.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, reactCall{actorID: actorID, target: target, count: n})
	return f.outcome, f.err
}

type fixture struct {
	bot     *bot.Bot
	api     *fakeAPI
	gate    *fakeGate
	reactor *fakeReactor
	store   *sqlite.Client
	queue   *intake.Queue
	tiers   *quota.Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)

	store, err := sqlite.Open(t.Context(), &config.SQLite{
		Path: filepath.Join(t.TempDir(), "bot.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		api:     &fakeAPI{},
		gate:    &fakeGate{joined: true},
		reactor: &fakeReactor{},
		store:   store,
		queue:   intake.NewQueue(store.Queue(), 10, logger),
		tiers:   quota.NewResolver(store.Actors(), []int64{adminID}, 3000, 30, logger),
	}

	f.bot = bot.New(bot.Deps{
		API:     f.api,
		DB:      store,
		Intake:  f.queue,
		Reactor: f.reactor,
		Tiers:   f.tiers,
		Gate:    f.gate,
		Metrics: metrics.NewAccumulator(),
	}, bot.Options{
		Username:   "reactor_bot",
		AdminCount: 1,
		Window:     5 * time.Minute,
	}, logger)

	return f
}

func command(from int64, chatID int64, text string, reply *tgbotapi.Message) tgbotapi.Update {
	length := len(text)
	for i, r := range text {
		if r == ' ' {
			length = i
			break
		}
	}

	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID:      100,
		From:           &tgbotapi.User{ID: from, UserName: "someone"},
		Chat:           &tgbotapi.Chat{ID: chatID, Type: "supergroup"},
		Text:           text,
		Entities:       []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
		ReplyToMessage: reply,
	}}
}

func callback(from int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-" + data,
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: 55, Chat: &tgbotapi.Chat{ID: from, Type: "private"}},
		Data:    data,
	}}
}

func addedToChannel(channelID, by int64) tgbotapi.Update {
	return tgbotapi.Update{MyChatMember: &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: channelID, Type: "channel", Title: "Daily News", UserName: "dailynews"},
		From:          tgbotapi.User{ID: by},
		OldChatMember: tgbotapi.ChatMember{Status: "left"},
		NewChatMember: tgbotapi.ChatMember{Status: "administrator"},
	}}
}

func channelPost(channelID int64, postID int) tgbotapi.Update {
	return tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		MessageID: postID,
		Chat:      &tgbotapi.Chat{ID: channelID, Type: "channel", Title: "Daily News"},
	}}
}

func TestReactUsesRepliedMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.reactor.outcome = &reaction.Outcome{
		Decision: quota.Decision{Allowed: true, Budget: 30, Used: 10, Requested: 5},
		Applied:  5,
	}

	f.bot.HandleUpdate(t.Context(), command(userID, -200, "/react 5", &tgbotapi.Message{MessageID: 42}))

	require.Len(t, f.reactor.calls, 1)
	assert.Equal(t, reactCall{
		actorID: userID,
		target:  types.Target{SurfaceID: -200, PostID: 42},
		count:   5,
	}, f.reactor.calls[0])

	msg := f.api.last(t)
	assert.Contains(t, msg.text, "Sent 5 permanent reactions")
	assert.Contains(t, msg.text, "15 of 30")
}

func TestReactUsesExplicitPostID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.reactor.outcome = &reaction.Outcome{Decision: quota.Decision{Allowed: true, Budget: 30}, Applied: 3}

	f.bot.HandleUpdate(t.Context(), command(userID, -200, "/react 3 9001", nil))

	require.Len(t, f.reactor.calls, 1)
	assert.Equal(t, types.Target{SurfaceID: -200, PostID: 9001}, f.reactor.calls[0].target)
}

func TestReactRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "no arguments", text: "/react", want: "Usage: /react"},
		{name: "not a number", text: "/react lots", want: "valid number"},
		{name: "negative", text: "/react -3", want: "positive number"},
		{name: "no target", text: "/react 5", want: "reply to a message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.bot.HandleUpdate(t.Context(), command(userID, -200, tt.text, nil))

			assert.Empty(t, f.reactor.calls)
			assert.Contains(t, f.api.last(t).text, tt.want)
		})
	}
}

func TestReactReportsDenial(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.reactor.outcome = &reaction.Outcome{Decision: quota.Decision{Budget: 30, Used: 28, Requested: 5}}
	f.reactor.err = &quota.DeniedError{Budget: 30, Used: 28, Requested: 5}

	f.bot.HandleUpdate(t.Context(), command(userID, -200, "/react 5", &tgbotapi.Message{MessageID: 42}))

	text := f.api.last(t).text
	assert.Contains(t, text, "Reaction limit exceeded")
	assert.Contains(t, text, "Already used: 28")
	assert.Contains(t, text, "Available: 2")
}

func TestReactRequiresMembership(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gate.joined = false

	f.bot.HandleUpdate(t.Context(), command(userID, -200, "/react 5", &tgbotapi.Message{MessageID: 42}))

	assert.Empty(t, f.reactor.calls)
	assert.Contains(t, f.api.last(t).text, "Channel Membership Required")
}

func TestAdminCommandsRequireAllowList(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"/admin_stats", "/admin_channels", "/admin_addpremium 7 30"} {
		f := newFixture(t)
		f.bot.HandleUpdate(t.Context(), command(userID, userID, text, nil))
		assert.Equal(t, constants.AdminOnly, f.api.last(t).text, text)
	}
}

func TestGrantSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bot.HandleUpdate(t.Context(), command(adminID, adminID, "/admin_addpremium 77 7", nil))

	assert.Contains(t, f.api.last(t).text, "Premium added for user 77 for 7 days")

	tier, err := f.tiers.Tier(t.Context(), 77)
	require.NoError(t, err)
	assert.Equal(t, quota.TierPremium, tier)

	f.bot.HandleUpdate(t.Context(), command(adminID, adminID, "/admin_addpremium nobody", nil))
	assert.Contains(t, f.api.last(t).text, "Invalid user ID")
}

func TestChannelLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := t.Context()

	f.bot.HandleUpdate(ctx, addedToChannel(-300, userID))

	channel, err := f.store.Channels().Get(ctx, -300)
	require.NoError(t, err)
	assert.True(t, channel.Active)
	assert.True(t, channel.AutoReact)
	assert.Equal(t, userID, channel.RegisteredBy)

	// Settings are sent privately to the user who added the bot
	msg := f.api.last(t)
	assert.Equal(t, userID, msg.chatID)
	assert.Contains(t, msg.text, "Daily News")

	f.bot.HandleUpdate(ctx, channelPost(-300, 11))
	f.bot.HandleUpdate(ctx, channelPost(-300, 11))
	f.bot.HandleUpdate(ctx, channelPost(-300, 12))

	var posts []int64
	for post, err := range f.queue.Drain(ctx) {
		require.NoError(t, err)
		posts = append(posts, post.PostID)
	}
	assert.Equal(t, []int64{11, 12}, posts)

	f.bot.HandleUpdate(ctx, tgbotapi.Update{MyChatMember: &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: -300, Type: "channel", Title: "Daily News"},
		From:          tgbotapi.User{ID: userID},
		OldChatMember: tgbotapi.ChatMember{Status: "administrator"},
		NewChatMember: tgbotapi.ChatMember{Status: "kicked"},
	}})

	channel, err = f.store.Channels().Get(ctx, -300)
	require.NoError(t, err)
	assert.False(t, channel.Active)
}

func TestChannelPostFromUnknownChannelRegistersIt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := t.Context()

	f.bot.HandleUpdate(ctx, channelPost(-400, 1))

	channel, err := f.store.Channels().Get(ctx, -400)
	require.NoError(t, err)
	assert.True(t, channel.Active)
	assert.True(t, channel.AutoReact)

	count := 0
	for _, err := range f.queue.Drain(ctx) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 1, count)
}

func TestChannelCallbacks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := t.Context()

	f.bot.HandleUpdate(ctx, addedToChannel(-300, userID))

	// A stranger cannot change the channel
	f.bot.HandleUpdate(ctx, callback(99, "disable_auto_-300"))
	assert.Equal(t, constants.NotAllowed, f.api.last(t).text)

	channel, err := f.store.Channels().Get(ctx, -300)
	require.NoError(t, err)
	assert.True(t, channel.AutoReact)

	// The owner can
	f.bot.HandleUpdate(ctx, callback(userID, "disable_auto_-300"))
	assert.Contains(t, f.api.last(t).text, "disabled")

	channel, err = f.store.Channels().Get(ctx, -300)
	require.NoError(t, err)
	assert.False(t, channel.AutoReact)

	// And so can an admin, from the channel list
	f.bot.HandleUpdate(ctx, callback(adminID, "toggle_channel_-300"))
	msg := f.api.last(t)
	assert.True(t, msg.edit)
	assert.Contains(t, msg.text, "Managed Channels")

	channel, err = f.store.Channels().Get(ctx, -300)
	require.NoError(t, err)
	assert.True(t, channel.AutoReact)

	f.bot.HandleUpdate(ctx, callback(userID, "channel_stats_-999"))
	assert.Equal(t, constants.ChannelNotFound, f.api.last(t).text)

	assert.Len(t, f.api.answered, 4)
}

func TestStartShowsWelcome(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bot.HandleUpdate(t.Context(), command(userID, userID, "/start", nil))

	assert.Contains(t, f.api.last(t).text, "3,000 reactions per post")

	actor, err := f.store.Actors().Get(t.Context(), userID)
	require.NoError(t, err)
	assert.Equal(t, userID, actor.ID)
}

func TestRunStopsWhenUpdatesClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	updates := make(chan tgbotapi.Update, 1)
	updates <- command(userID, userID, "/health", nil)
	close(updates)

	err := f.bot.Run(t.Context(), updates)
	require.ErrorIs(t, err, bot.ErrUpdatesClosed)
	assert.Contains(t, f.api.last(t).text, "Healthy")
}

func TestHealthShowsReactionsRecordedByWorkers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// A worker in another process recorded this event
	_, err := f.store.Ledger().Append(t.Context(), &types.ReactionEvent{
		ActorID:      adminID,
		SurfaceID:    -100,
		PostID:       1,
		Symbols:      []string{"👍"},
		AppliedCount: 1250,
		AppliedAt:    time.Now(),
		Active:       true,
	})
	require.NoError(t, err)

	f.bot.HandleUpdate(t.Context(), command(userID, userID, "/health", nil))

	text := f.api.last(t).text
	assert.Contains(t, text, "Total Posts Processed: 0")
	assert.Contains(t, text, "Reactions Recorded (all workers): 1,250")
}
