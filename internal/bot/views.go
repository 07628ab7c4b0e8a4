package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robalyx/reactor/internal/bot/constants"
	"github.com/robalyx/reactor/internal/bot/utils"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/metrics"
	"github.com/robalyx/reactor/internal/quota"
	"github.com/robalyx/reactor/internal/reaction"
)

func (b *Bot) windowLabel() string {
	return utils.FormatDuration(b.opts.Window)
}

func (b *Bot) requirementView() view {
	var sb strings.Builder
	sb.WriteString("🔒 Channel Membership Required\n\n")
	sb.WriteString("To use this bot, you must join our official channels first!\n\n")
	sb.WriteString("Required Channels:\n")

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(b.Gate.Channels())+1)
	for _, channel := range b.Gate.Channels() {
		fmt.Fprintf(&sb, "• %s - %s\n", channel.Title, channel.URL)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("📢 Join "+channel.Title, channel.URL),
		))
	}

	sb.WriteString("\nPlease join all channels above and press the button below.")

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ I've Joined All Channels", constants.VerifyJoinCallback),
	))
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)

	return view{text: sb.String(), markup: &markup}
}

func (b *Bot) welcomeView() view {
	high := utils.FormatCount(int64(b.Tiers.BudgetFor(quota.TierPremium)))
	low := utils.FormatCount(int64(b.Tiers.BudgetFor(quota.TierRegular)))

	text := fmt.Sprintf(`🤖 Reaction Bot 🔥 Permanent Reactions

I send permanent positive reactions that never get removed.

• ⭐ Premium users: up to %s reactions per post
• 🔹 Regular users: up to %s reactions per post
• ⏰ Limits reset every %s
• 📢 Auto-reactions when added to a channel

How to use:
1. Add me to your channel as admin
2. I react to every new post automatically
3. Or reply to a message with /react <number>`, high, low, b.windowLabel())

	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 My Stats", constants.UserStatsCallback),
		),
	}
	if b.opts.Username != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("📢 Add to Channel",
				"https://t.me/"+b.opts.Username+"?startchannel=true"),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔍 Verify Channels", constants.VerifyJoinCallback),
	))
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)

	return view{text: text, markup: &markup}
}

func backToMain() *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔙 Back to Main", constants.MainMenuCallback),
	))
	return &markup
}

type userStats struct {
	tier     quota.Tier
	budget   int
	actor    *types.Actor
	total    int64
	channels int
}

func (b *Bot) userStatsView(s userStats) view {
	premiumUntil := "Not subscribed"
	if s.actor != nil && s.actor.SubscriptionActive(time.Now()) {
		premiumUntil = "No expiry"
		if s.actor.SubscriptionExpiresAt != nil {
			premiumUntil = s.actor.SubscriptionExpiresAt.UTC().Format(time.DateTime) + " UTC"
		}
	}

	icon := map[quota.Tier]string{
		quota.TierAdmin:   "👑",
		quota.TierPremium: "⭐",
		quota.TierRegular: "🔹",
	}[s.tier]

	text := fmt.Sprintf(`📊 Your Stats

Account Type: %s %s
Reaction Limit: %s per post (%s)
Premium Until: %s
Reactions Sent: %s
Channel Member: ✅ Verified

Channels Managed: %d`,
		icon, s.tier, utils.FormatCount(int64(s.budget)), b.windowLabel(), premiumUntil,
		utils.FormatCount(s.total), s.channels)

	return view{text: text, markup: backToMain()}
}

func (b *Bot) deniedText(denied *quota.DeniedError) string {
	return fmt.Sprintf(`❌ Reaction limit exceeded!
• Your limit: %s reactions per post (%s)
• Already used: %s
• Requested: %s more
• Available: %s`,
		utils.FormatCount(int64(denied.Budget)), b.windowLabel(),
		utils.FormatCount(int64(denied.Used)),
		utils.FormatCount(int64(denied.Requested)),
		utils.FormatCount(int64(denied.Remaining())))
}

func (b *Bot) reactedView(outcome *reaction.Outcome) view {
	text := fmt.Sprintf(`✅ Sent %s permanent reactions! 🔥
📊 Your reactions on this post: %s of %s
⏰ Limit resets within %s`,
		utils.FormatCount(int64(outcome.Applied)),
		utils.FormatCount(int64(outcome.UsedAfter())),
		utils.FormatCount(int64(outcome.Decision.Budget)),
		b.windowLabel())

	if outcome.Failed > 0 {
		text += fmt.Sprintf("\n⚠️ %d batches failed", outcome.Failed)
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📊 Check Stats", constants.UserStatsCallback),
	))

	return view{text: text, markup: &markup}
}

func autoReactLabel(enabled bool) string {
	if enabled {
		return "✅ Enabled"
	}
	return "❌ Disabled"
}

func channelKeyboard(channelID int64) *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(
			"✅ Enable Auto-Reactions", callbackLabel(constants.EnableAutoCallbackPrefix, channelID))),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(
			"❌ Disable Auto-Reactions", callbackLabel(constants.DisableAutoCallbackPrefix, channelID))),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(
			"📊 Channel Stats", callbackLabel(constants.ChannelStatsCallbackPrefix, channelID))),
	)
	return &markup
}

func (b *Bot) channelAddedView(channel *types.ManagedChannel) view {
	text := fmt.Sprintf(`🤖 Reaction Bot Added to %s

I will automatically send permanent reactions to all new posts in this channel.

Current Settings:
• Auto-reactions: %s
• Reaction limit: %s per post
• Time window: %s`,
		channel.Title, autoReactLabel(channel.AutoReact),
		utils.FormatCount(int64(b.Tiers.BudgetFor(quota.TierAdmin))), b.windowLabel())

	return view{text: text, markup: channelKeyboard(channel.ID)}
}

func (b *Bot) channelStatsView(channel *types.ManagedChannel) view {
	text := fmt.Sprintf(`📊 Channel Stats - %s

• Auto-reactions: %s
• Reaction limit: %s per post
• Reactions: 🔥 Permanent
• Time window: %s`,
		channel.Title, autoReactLabel(channel.AutoReact),
		utils.FormatCount(int64(b.Tiers.BudgetFor(quota.TierAdmin))), b.windowLabel())

	return view{text: text, markup: channelKeyboard(channel.ID)}
}

func channelsView(channels []*types.ManagedChannel) view {
	if len(channels) == 0 {
		return view{text: "❌ No channels are currently managed."}
	}

	var sb strings.Builder
	sb.WriteString("📢 Managed Channels:\n\n")

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(channels))
	for _, channel := range channels {
		status := "❌"
		if channel.AutoReact {
			status = "✅"
		}

		username := constants.NotApplicable
		if channel.Username != "" {
			username = "@" + channel.Username
		}

		fmt.Fprintf(&sb, "%s %s\n   ID: %d\n   Username: %s\n   Auto-react: %s\n\n",
			status, channel.Title, channel.ID, username, autoReactLabel(channel.AutoReact))

		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(
			status+" "+utils.TruncateString(channel.Title, constants.ChannelTitleButtonLength),
			callbackLabel(constants.ToggleChannelCallbackPrefix, channel.ID),
		)))
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return view{text: sb.String(), markup: &markup}
}

type adminStats struct {
	userID      int64
	snapshot    metrics.Snapshot
	ledgerTotal int64
	channels    []*types.ManagedChannel
	actors      int
	subscribers int
	workers     int
}

func (b *Bot) adminStatsView(s adminStats) view {
	enabled := 0
	for _, channel := range s.channels {
		if channel.AutoReact {
			enabled++
		}
	}

	lastCheck := "never"
	if !s.snapshot.LastHealthCheck.IsZero() {
		lastCheck = s.snapshot.LastHealthCheck.UTC().Format(time.DateTime) + " UTC"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `📊 Admin Statistics

Bot Information:
• Admin Accounts: %d
• Your ID: %d
• Uptime: %s
• Workers Reporting: %d

Performance:
• Reactions Sent (this run): %s
• Reactions Sent (all time): %s
• Posts Processed: %s
• Last Health Check: %s

Users:
• Known Users: %s
• Premium Users: %s

Channels:
• Total Channels: %d
• Auto-reactions Enabled: %d
• Auto-reactions Disabled: %d

Reaction Limits:
• Premium Users: %s reactions/post
• Regular Users: %s reactions/post
• Time Window: %s

Required Channels:
`,
		b.opts.AdminCount, s.userID, utils.FormatUptime(s.snapshot.Uptime), s.workers,
		utils.FormatCount(s.snapshot.TotalReactions), utils.FormatCount(s.ledgerTotal),
		utils.FormatCount(s.snapshot.TotalPosts), lastCheck,
		utils.FormatCount(int64(s.actors)), utils.FormatCount(int64(s.subscribers)),
		len(s.channels), enabled, len(s.channels)-enabled,
		utils.FormatCount(int64(b.Tiers.BudgetFor(quota.TierPremium))),
		utils.FormatCount(int64(b.Tiers.BudgetFor(quota.TierRegular))),
		b.windowLabel())

	for _, channel := range b.Gate.Channels() {
		fmt.Fprintf(&sb, "• %s - %s\n", channel.Title, channel.Username)
	}

	return view{text: sb.String()}
}

// healthView shows this process's counters next to the ledger total, which
// also covers reactions sent by separately running workers.
func healthView(snapshot metrics.Snapshot, stored int64, channels int) view {
	return view{text: fmt.Sprintf(`🏥 Bot Health Status

Status: ✅ Healthy
Uptime: %s
Total Reactions Sent: %s
Total Posts Processed: %s
Reactions Recorded (all workers): %s

Database: ✅ Connected
Channels Managed: %d`,
		utils.FormatUptime(snapshot.Uptime),
		utils.FormatCount(snapshot.TotalReactions),
		utils.FormatCount(snapshot.TotalPosts),
		utils.FormatCount(stored),
		channels)}
}
