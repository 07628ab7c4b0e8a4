package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robalyx/reactor/internal/bot/constants"
	"github.com/robalyx/reactor/internal/bot/utils"
	"github.com/robalyx/reactor/internal/database/types"
	"go.uber.org/zap"
)

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil {
		return
	}

	// Stop the client's loading indicator
	if err := b.API.Request(ctx, tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Warn("Failed to answer callback", zap.Error(err))
	}

	o := callbackOrigin(query)
	data := query.Data

	switch {
	case data == constants.VerifyJoinCallback:
		b.handleVerify(ctx, o, query.From)
	case data == constants.MainMenuCallback:
		b.handleStart(ctx, o, query.From)
	case data == constants.UserStatsCallback:
		b.handleStats(ctx, o, query.From)
	case strings.HasPrefix(data, constants.EnableAutoCallbackPrefix):
		b.handleSetAutoReact(ctx, o, query.From.ID, data, constants.EnableAutoCallbackPrefix, true)
	case strings.HasPrefix(data, constants.DisableAutoCallbackPrefix):
		b.handleSetAutoReact(ctx, o, query.From.ID, data, constants.DisableAutoCallbackPrefix, false)
	case strings.HasPrefix(data, constants.ToggleChannelCallbackPrefix):
		b.handleToggleChannel(ctx, o, query.From.ID, data)
	case strings.HasPrefix(data, constants.ChannelStatsCallbackPrefix):
		b.handleChannelStats(ctx, o, query.From.ID, data)
	default:
		b.logger.Debug("Unknown callback", zap.String("data", data))
	}
}

// loadManagedChannel resolves the channel in the callback data and checks that
// the user registered it or is an admin.
func (b *Bot) loadManagedChannel(
	ctx context.Context, o origin, userID int64, data, prefix string,
) (*types.ManagedChannel, bool) {
	channelID, err := utils.ParseCallbackID(data, prefix)
	if err != nil {
		b.logger.Warn("Invalid callback data", zap.String("data", data))
		return nil, false
	}

	channel, err := b.DB.Channels().Get(ctx, channelID)
	if err != nil {
		if !errors.Is(err, types.ErrChannelNotFound) {
			b.logger.Error("Failed to load channel", zap.Int64("channelID", channelID), zap.Error(err))
		}
		b.text(ctx, o, constants.ChannelNotFound)
		return nil, false
	}

	if channel.RegisteredBy != userID && !b.Tiers.IsAdmin(userID) {
		b.text(ctx, o, constants.NotAllowed)
		return nil, false
	}

	return channel, true
}

func (b *Bot) handleSetAutoReact(ctx context.Context, o origin, userID int64, data, prefix string, enabled bool) {
	channel, ok := b.loadManagedChannel(ctx, o, userID, data, prefix)
	if !ok {
		return
	}

	if _, err := b.DB.Channels().SetAutoReact(ctx, channel.ID, enabled); err != nil {
		b.logger.Error("Failed to set auto-react", zap.Int64("channelID", channel.ID), zap.Error(err))
		b.text(ctx, o, constants.GenericError)
		return
	}

	b.logger.Info("Auto-react changed",
		zap.Int64("channelID", channel.ID),
		zap.Int64("userID", userID),
		zap.Bool("enabled", enabled))

	if enabled {
		b.text(ctx, o, "✅ Auto-reactions enabled for "+channel.Title+"!")
	} else {
		b.text(ctx, o, "❌ Auto-reactions disabled for "+channel.Title+"!")
	}
}

func (b *Bot) handleToggleChannel(ctx context.Context, o origin, userID int64, data string) {
	channel, ok := b.loadManagedChannel(ctx, o, userID, data, constants.ToggleChannelCallbackPrefix)
	if !ok {
		return
	}

	if _, err := b.DB.Channels().ToggleAutoReact(ctx, channel.ID); err != nil {
		b.logger.Error("Failed to toggle auto-react", zap.Int64("channelID", channel.ID), zap.Error(err))
		b.text(ctx, o, constants.GenericError)
		return
	}

	// Redraw the list so every button shows its current state
	channels, err := b.DB.Channels().ListActive(ctx)
	if err != nil {
		b.logger.Error("Failed to list channels", zap.Error(err))
		b.text(ctx, o, constants.GenericError)
		return
	}

	b.show(ctx, o, channelsView(channels))
}

func (b *Bot) handleChannelStats(ctx context.Context, o origin, userID int64, data string) {
	channel, ok := b.loadManagedChannel(ctx, o, userID, data, constants.ChannelStatsCallbackPrefix)
	if !ok {
		return
	}

	b.show(ctx, o, b.channelStatsView(channel))
}
