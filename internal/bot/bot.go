package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robalyx/reactor/internal/database"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/metrics"
	"github.com/robalyx/reactor/internal/quota"
	"github.com/robalyx/reactor/internal/reaction"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/robalyx/reactor/internal/worker/core"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// ErrUpdatesClosed is returned when the update channel closes while running.
var ErrUpdatesClosed = errors.New("update channel closed")

// API sends requests to Telegram.
type API interface {
	Send(ctx context.Context, msg tgbotapi.Chattable) error
	Request(ctx context.Context, req tgbotapi.Chattable) error
}

// Reactor applies reactions on behalf of an actor.
type Reactor interface {
	React(ctx context.Context, actorID int64, target types.Target, requested int) (*reaction.Outcome, error)
}

// Tiers resolves access levels.
type Tiers interface {
	IsAdmin(actorID int64) bool
	Tier(ctx context.Context, actorID int64) (quota.Tier, error)
	BudgetFor(tier quota.Tier) int
}

// Gate enforces required channel membership.
type Gate interface {
	Require(ctx context.Context, userID int64) (bool, error)
	Check(ctx context.Context, userID int64) (bool, error)
	Invalidate(ctx context.Context, userID int64)
	Channels() []config.RequiredChannel
}

// Intake queues observed channel posts.
type Intake interface {
	Enqueue(ctx context.Context, target types.Target) (bool, error)
}

// StatusLister lists background worker heartbeats.
type StatusLister interface {
	GetAllStatuses(ctx context.Context) ([]core.Status, error)
}

// Deps are the collaborators the bot routes updates to.
type Deps struct {
	API     API
	DB      database.Client
	Intake  Intake
	Reactor Reactor
	Tiers   Tiers
	Gate    Gate
	Metrics *metrics.Accumulator
	Workers StatusLister
}

// Options configures the bot.
type Options struct {
	// Username of the bot, used for the add-to-channel link.
	Username string
	// Number of admins, shown in admin statistics.
	AdminCount int
	// Rolling quota window.
	Window time.Duration
	// Days granted when an admin omits them.
	DefaultGrantDays int
	// Updates handled concurrently.
	Concurrency int
}

// Bot routes Telegram updates to intake, channel management and commands.
type Bot struct {
	Deps
	opts   Options
	logger *zap.Logger
}

// New creates a Bot.
func New(deps Deps, opts Options, logger *zap.Logger) *Bot {
	if opts.DefaultGrantDays <= 0 {
		opts.DefaultGrantDays = 30
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}

	return &Bot{
		Deps:   deps,
		opts:   opts,
		logger: logger.Named("bot"),
	}
}

// Run handles updates until ctx is done or the channel closes.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	p := pool.New().WithMaxGoroutines(b.opts.Concurrency)
	defer p.Wait()

	b.logger.Info("Bot started", zap.String("username", b.opts.Username))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return ErrUpdatesClosed
			}
			p.Go(func() {
				b.HandleUpdate(ctx, update)
			})
		}
	}
}

// HandleUpdate routes a single update. Failures are logged, never returned.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Panic while handling update",
				zap.Int("updateID", update.UpdateID),
				zap.Any("panic", r))
		}
	}()

	switch {
	case update.ChannelPost != nil:
		b.handleChannelPost(ctx, update.ChannelPost)
	case update.MyChatMember != nil:
		b.handleMyChatMember(ctx, update.MyChatMember)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	}
}

// view is a rendered screen.
type view struct {
	text   string
	markup *tgbotapi.InlineKeyboardMarkup
}

// origin is where a view is shown: a new message, or an edit of a callback message.
type origin struct {
	chatID    int64
	messageID int
	replyTo   int
}

func messageOrigin(msg *tgbotapi.Message) origin {
	return origin{chatID: msg.Chat.ID, replyTo: msg.MessageID}
}

func callbackOrigin(query *tgbotapi.CallbackQuery) origin {
	if query.Message == nil {
		return origin{chatID: query.From.ID}
	}
	return origin{chatID: query.Message.Chat.ID, messageID: query.Message.MessageID}
}

// show sends or edits a view.
func (b *Bot) show(ctx context.Context, o origin, v view) {
	var msg tgbotapi.Chattable

	if o.messageID != 0 {
		if v.markup != nil {
			msg = tgbotapi.NewEditMessageTextAndMarkup(o.chatID, o.messageID, v.text, *v.markup)
		} else {
			msg = tgbotapi.NewEditMessageText(o.chatID, o.messageID, v.text)
		}
	} else {
		m := tgbotapi.NewMessage(o.chatID, v.text)
		m.ReplyToMessageID = o.replyTo
		m.AllowSendingWithoutReply = true
		if v.markup != nil {
			m.ReplyMarkup = *v.markup
		}
		msg = m
	}

	if err := b.API.Send(ctx, msg); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chatID", o.chatID), zap.Error(err))
	}
}

func (b *Bot) text(ctx context.Context, o origin, text string) {
	b.show(ctx, o, view{text: text})
}

// requireMember shows the join requirement when the user has not verified.
func (b *Bot) requireMember(ctx context.Context, o origin, userID int64) bool {
	ok, err := b.Gate.Require(ctx, userID)
	if err != nil {
		b.logger.Warn("Membership check failed", zap.Int64("userID", userID), zap.Error(err))
	}

	if !ok {
		b.show(ctx, o, b.requirementView())
		return false
	}

	return true
}

func (b *Bot) ensureActor(ctx context.Context, user *tgbotapi.User) {
	if user == nil {
		return
	}

	if err := b.DB.Actors().Ensure(ctx, user.ID, user.UserName); err != nil {
		b.logger.Error("Failed to ensure actor", zap.Int64("userID", user.ID), zap.Error(err))
	}
}

func callbackLabel(prefix string, id int64) string {
	return fmt.Sprintf("%s%d", prefix, id)
}
