package bot

import (
	"context"
	"errors"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/telegram"
	"go.uber.org/zap"
)

// handleChannelPost queues a new post for automatic reactions. Posts from a
// channel the bot never saw being added to register that channel first.
func (b *Bot) handleChannelPost(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}

	chat := msg.Chat

	channel, err := b.DB.Channels().Get(ctx, chat.ID)
	switch {
	case errors.Is(err, types.ErrChannelNotFound):
		channel = &types.ManagedChannel{ID: chat.ID, AutoReact: true}
	case err != nil:
		b.logger.Error("Failed to load channel", zap.Int64("channelID", chat.ID), zap.Error(err))
		return
	}

	if !channel.Active {
		channel.Title = chat.Title
		channel.Username = chat.UserName
		channel.Active = true
		channel.RegisteredAt = time.Now()

		if err := b.DB.Channels().Register(ctx, channel); err != nil {
			b.logger.Error("Failed to register channel", zap.Int64("channelID", chat.ID), zap.Error(err))
			return
		}
	}

	target := types.Target{SurfaceID: chat.ID, PostID: int64(msg.MessageID)}

	inserted, err := b.Intake.Enqueue(ctx, target)
	if err != nil {
		b.logger.Error("Failed to queue channel post", zap.Stringer("target", target), zap.Error(err))
		return
	}

	if inserted {
		b.logger.Info("New post detected",
			zap.String("channel", chat.Title),
			zap.Stringer("target", target))
	}
}

// handleMyChatMember tracks the bot being added to or removed from a chat.
func (b *Bot) handleMyChatMember(ctx context.Context, update *tgbotapi.ChatMemberUpdated) {
	chat := update.Chat
	if !chat.IsChannel() && !chat.IsGroup() && !chat.IsSuperGroup() {
		return
	}

	switch {
	case isPresent(update.NewChatMember.Status) && !isPresent(update.OldChatMember.Status):
		channel := &types.ManagedChannel{
			ID:           chat.ID,
			Title:        chat.Title,
			Username:     chat.UserName,
			AutoReact:    true,
			Active:       true,
			RegisteredBy: update.From.ID,
			RegisteredAt: time.Now(),
		}

		if err := b.DB.Channels().Register(ctx, channel); err != nil {
			b.logger.Error("Failed to register channel", zap.Int64("channelID", chat.ID), zap.Error(err))
			return
		}

		b.logger.Info("Bot added to channel",
			zap.Int64("channelID", chat.ID),
			zap.String("title", chat.Title),
			zap.Int64("addedBy", update.From.ID))

		// Settings go to the user who added the bot
		b.show(ctx, origin{chatID: update.From.ID}, b.channelAddedView(channel))

	case !isPresent(update.NewChatMember.Status) && isPresent(update.OldChatMember.Status):
		if err := b.DB.Channels().Deactivate(ctx, chat.ID); err != nil {
			b.logger.Error("Failed to deactivate channel", zap.Int64("channelID", chat.ID), zap.Error(err))
			return
		}

		b.logger.Info("Bot removed from channel",
			zap.Int64("channelID", chat.ID),
			zap.String("title", chat.Title))
	}
}

func isPresent(status string) bool {
	return telegram.ParseMemberStatus(status) == telegram.MemberJoined
}
