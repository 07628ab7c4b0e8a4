package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robalyx/reactor/internal/bot/constants"
	"github.com/robalyx/reactor/internal/bot/utils"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/quota"
	"github.com/robalyx/reactor/internal/reaction"
	"go.uber.org/zap"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	o := messageOrigin(msg)

	switch msg.Command() {
	case constants.StartCommand:
		b.handleStart(ctx, o, msg.From)
	case constants.VerifyCommand:
		b.handleVerify(ctx, o, msg.From)
	case constants.StatsCommand:
		b.handleStats(ctx, o, msg.From)
	case constants.ReactCommand:
		b.handleReact(ctx, msg)
	case constants.HealthCommand:
		b.handleHealth(ctx, o)
	case constants.AdminAddPremiumCommand:
		b.handleGrant(ctx, msg)
	case constants.AdminChannelsCommand:
		b.handleAdminChannels(ctx, o, msg.From.ID)
	case constants.AdminStatsCommand:
		b.handleAdminStats(ctx, o, msg.From.ID)
	}
}

func (b *Bot) handleStart(ctx context.Context, o origin, user *tgbotapi.User) {
	b.ensureActor(ctx, user)

	if !b.requireMember(ctx, o, user.ID) {
		return
	}

	b.show(ctx, o, b.welcomeView())
}

// handleVerify forces a fresh membership check.
func (b *Bot) handleVerify(ctx context.Context, o origin, user *tgbotapi.User) {
	b.ensureActor(ctx, user)
	b.Gate.Invalidate(ctx, user.ID)

	joined, err := b.Gate.Check(ctx, user.ID)
	if err != nil {
		b.logger.Warn("Membership check failed", zap.Int64("userID", user.ID), zap.Error(err))
	}

	if !joined {
		b.show(ctx, o, b.requirementView())
		return
	}

	if err := b.DB.Actors().MarkVerified(ctx, user.ID, time.Now()); err != nil {
		b.logger.Error("Failed to mark actor verified", zap.Int64("userID", user.ID), zap.Error(err))
	}

	if o.messageID == 0 {
		b.text(ctx, o, "✅ Verification successful! You can now use all bot features.")
	}
	b.show(ctx, o, b.welcomeView())
}

func (b *Bot) handleStats(ctx context.Context, o origin, user *tgbotapi.User) {
	b.ensureActor(ctx, user)

	if !b.requireMember(ctx, o, user.ID) {
		return
	}

	tier, err := b.Tiers.Tier(ctx, user.ID)
	if err != nil {
		b.logger.Error("Failed to resolve tier", zap.Int64("userID", user.ID), zap.Error(err))
	}

	stats := userStats{tier: tier, budget: b.Tiers.BudgetFor(tier)}

	if actor, err := b.DB.Actors().Get(ctx, user.ID); err == nil {
		stats.actor = actor
	}

	if total, err := b.DB.Ledger().TotalAppliedByActor(ctx, user.ID); err == nil {
		stats.total = total
	}

	if channels, err := b.DB.Channels().ListActive(ctx); err == nil {
		stats.channels = len(channels)
	}

	b.show(ctx, o, b.userStatsView(stats))
}

func (b *Bot) handleReact(ctx context.Context, msg *tgbotapi.Message) {
	o := messageOrigin(msg)
	userID := msg.From.ID

	b.ensureActor(ctx, msg.From)

	if !b.requireMember(ctx, o, userID) {
		return
	}

	args, err := utils.ParseReactArgs(msg.CommandArguments())
	if err != nil {
		b.text(ctx, o, reactArgsError(err))
		return
	}

	postID := args.PostID
	if msg.ReplyToMessage != nil {
		postID = int64(msg.ReplyToMessage.MessageID)
	}
	if postID == 0 {
		b.text(ctx, o, "❌ Please reply to a message or provide a message ID.")
		return
	}

	target := types.Target{SurfaceID: msg.Chat.ID, PostID: postID}

	outcome, err := b.Reactor.React(ctx, userID, target, args.Count)

	var denied *quota.DeniedError
	switch {
	case errors.As(err, &denied):
		b.text(ctx, o, b.deniedText(denied))
	case errors.Is(err, quota.ErrTargetBusy):
		b.text(ctx, o, constants.TargetBusy)
	case errors.Is(err, reaction.ErrLedgerAppend):
		// The reactions are live even though the record failed
		b.show(ctx, o, b.reactedView(outcome))
	case err != nil:
		b.logger.Error("Failed to react", zap.Int64("userID", userID), zap.Stringer("target", target), zap.Error(err))
		b.text(ctx, o, constants.GenericError)
	case outcome.Applied == 0:
		b.text(ctx, o, constants.NothingApplied)
	default:
		b.show(ctx, o, b.reactedView(outcome))
	}
}

func reactArgsError(err error) string {
	switch {
	case errors.Is(err, utils.ErrNotPositive):
		return "❌ Please provide a positive number of reactions.\n\n" + constants.ReactUsage
	case errors.Is(err, utils.ErrInvalidNumberFormat):
		return "❌ Please provide a valid number.\n\n" + constants.ReactUsage
	default:
		return constants.ReactUsage
	}
}

func (b *Bot) handleHealth(ctx context.Context, o origin) {
	if err := b.DB.Ping(ctx); err != nil {
		b.text(ctx, o, "❌ Health check failed: "+err.Error())
		return
	}

	channels, err := b.DB.Channels().ListActive(ctx)
	if err != nil {
		b.text(ctx, o, "❌ Health check failed: "+err.Error())
		return
	}

	stored, err := b.DB.Ledger().TotalApplied(ctx)
	if err != nil {
		b.logger.Warn("Failed to read stored reaction total", zap.Error(err))
	}

	b.show(ctx, o, healthView(b.Metrics.Snapshot(), stored, len(channels)))
}

func (b *Bot) handleGrant(ctx context.Context, msg *tgbotapi.Message) {
	o := messageOrigin(msg)

	if !b.Tiers.IsAdmin(msg.From.ID) {
		b.text(ctx, o, constants.AdminOnly)
		return
	}

	args, err := utils.ParseGrantArgs(msg.CommandArguments(), b.opts.DefaultGrantDays)
	if err != nil {
		if errors.Is(err, utils.ErrMissingArguments) {
			b.text(ctx, o, constants.GrantUsage)
		} else {
			b.text(ctx, o, "❌ Invalid user ID or days format.\n\n"+constants.GrantUsage)
		}
		return
	}

	until := time.Now().AddDate(0, 0, args.Days)
	if err := b.DB.Actors().GrantSubscription(ctx, args.UserID, until); err != nil {
		b.logger.Error("Failed to grant subscription",
			zap.Int64("adminID", msg.From.ID),
			zap.Int64("userID", args.UserID),
			zap.Error(err))
		b.text(ctx, o, constants.GenericError)
		return
	}

	b.logger.Info("Granted subscription",
		zap.Int64("adminID", msg.From.ID),
		zap.Int64("userID", args.UserID),
		zap.Int("days", args.Days))

	b.text(ctx, o, fmt.Sprintf("✅ Premium added for user %d for %d days.", args.UserID, args.Days))
}

func (b *Bot) handleAdminChannels(ctx context.Context, o origin, userID int64) {
	if !b.Tiers.IsAdmin(userID) {
		b.text(ctx, o, constants.AdminOnly)
		return
	}

	channels, err := b.DB.Channels().ListActive(ctx)
	if err != nil {
		b.logger.Error("Failed to list channels", zap.Error(err))
		b.text(ctx, o, constants.GenericError)
		return
	}

	b.show(ctx, o, channelsView(channels))
}

func (b *Bot) handleAdminStats(ctx context.Context, o origin, userID int64) {
	if !b.Tiers.IsAdmin(userID) {
		b.text(ctx, o, constants.AdminOnly)
		return
	}

	stats := adminStats{userID: userID, snapshot: b.Metrics.Snapshot()}

	var err error
	if stats.channels, err = b.DB.Channels().ListActive(ctx); err != nil {
		b.logger.Error("Failed to list channels", zap.Error(err))
		b.text(ctx, o, constants.GenericError)
		return
	}

	if stats.ledgerTotal, err = b.DB.Ledger().TotalApplied(ctx); err != nil {
		b.logger.Warn("Failed to sum ledger", zap.Error(err))
	}
	if stats.actors, err = b.DB.Actors().Count(ctx); err != nil {
		b.logger.Warn("Failed to count actors", zap.Error(err))
	}
	if stats.subscribers, err = b.DB.Actors().CountSubscribed(ctx, time.Now()); err != nil {
		b.logger.Warn("Failed to count subscribers", zap.Error(err))
	}

	if b.Workers != nil {
		statuses, err := b.Workers.GetAllStatuses(ctx)
		if err != nil {
			b.logger.Warn("Failed to list worker statuses", zap.Error(err))
		}
		now := time.Now()
		for _, s := range statuses {
			if !s.IsStale(now) {
				stats.workers++
			}
		}
	}

	b.show(ctx, o, b.adminStatsView(stats))
}
