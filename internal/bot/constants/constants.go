package constants

const (
	// Commands.
	StartCommand           = "start"
	VerifyCommand          = "verify"
	StatsCommand           = "stats"
	ReactCommand           = "react"
	HealthCommand          = "health"
	AdminAddPremiumCommand = "admin_addpremium"
	AdminChannelsCommand   = "admin_channels"
	AdminStatsCommand      = "admin_stats"

	// Callbacks.
	VerifyJoinCallback          = "verify_join"
	MainMenuCallback            = "main_menu"
	UserStatsCallback           = "user_stats"
	EnableAutoCallbackPrefix    = "enable_auto_"
	DisableAutoCallbackPrefix   = "disable_auto_"
	ToggleChannelCallbackPrefix = "toggle_channel_"
	ChannelStatsCallbackPrefix  = "channel_stats_"

	// Channel list.
	ChannelTitleButtonLength = 20

	// Messages.
	NotApplicable   = "N/A"
	AdminOnly       = "❌ This command is for admins only."
	NotAllowed      = "❌ You are not allowed to manage this channel."
	ChannelNotFound = "❌ Channel not found."
	GenericError    = "❌ An error occurred while processing your request."
	ReactUsage      = "Usage: /react <number_of_reactions> [message_id]\nReply to a message or provide its ID."
	GrantUsage      = "Usage: /admin_addpremium <user_id> [days]"
	TargetBusy      = "⏳ Another reaction request for this post is still running. Try again shortly."
	NothingApplied  = "❌ Failed to send any reactions."
)
