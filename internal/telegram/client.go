package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrMissingToken = errors.New("telegram bot token is not configured")
	ErrBreakerOpen  = errors.New("telegram api circuit breaker is open")
)

// MemberStatus is the coarse membership state of a user in a channel.
type MemberStatus int

const (
	MemberUnknown MemberStatus = iota
	MemberJoined
	MemberLeft
	MemberKicked
)

// String returns the status name.
func (s MemberStatus) String() string {
	switch s {
	case MemberJoined:
		return "member"
	case MemberLeft:
		return "left"
	case MemberKicked:
		return "kicked"
	default:
		return "unknown"
	}
}

// ParseMemberStatus maps a Telegram chat member status string.
func ParseMemberStatus(status string) MemberStatus {
	switch status {
	case "creator", "administrator", "member", "restricted":
		return MemberJoined
	case "left":
		return MemberLeft
	case "kicked":
		return MemberKicked
	default:
		return MemberUnknown
	}
}

// Client wraps the Telegram Bot API with bounded concurrency, request timeouts
// and a circuit breaker.
type Client struct {
	bot       *tgbotapi.BotAPI
	poller    *tgbotapi.BotAPI
	breaker   *gobreaker.CircuitBreaker
	semaphore *semaphore.Weighted
	logger    *zap.Logger
}

// NewClient authenticates against the Bot API and returns a Client.
func NewClient(cfg *config.Telegram, breakerCfg *config.CircuitBreaker, logger *zap.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}

	timeout := config.Millis(cfg.RequestTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	// Long polling needs room beyond the poll timeout itself
	poller := *bot
	poller.Client = &http.Client{Timeout: timeout + config.Seconds(cfg.PollTimeout)}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	logger = logger.Named("telegram_client")

	// Create circuit breaker settings
	failureThreshold := breakerCfg.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 5
	}

	settings := gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    config.Millis(breakerCfg.Interval),
		Timeout:     config.Millis(breakerCfg.Timeout),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		IsSuccessful: func(err error) bool {
			// Telegram rejecting a request is not an outage
			var apiErr *tgbotapi.Error
			return err == nil || errors.As(err, &apiErr)
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	logger.Info("Authorized on Telegram", zap.String("username", bot.Self.UserName))

	return &Client{
		bot:       bot,
		poller:    &poller,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		logger:    logger,
	}, nil
}

// Username returns the bot's own username.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// SetReaction applies the symbols to a post in a single call.
// The call is all-or-nothing: on error no symbol was applied.
func (c *Client) SetReaction(ctx context.Context, target types.Target, symbols []string) error {
	reactions := make([]map[string]string, 0, len(symbols))
	for _, symbol := range symbols {
		reactions = append(reactions, map[string]string{"type": "emoji", "emoji": symbol})
	}

	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", target.SurfaceID)
	params.AddNonZero("message_id", int(target.PostID))
	if err := params.AddInterface("reaction", reactions); err != nil {
		return fmt.Errorf("failed to encode reactions: %w", err)
	}

	return c.execute(ctx, func() (any, error) {
		return c.bot.MakeRequest("setMessageReaction", params)
	})
}

// MemberStatus looks up a user's membership in a public channel.
func (c *Client) MemberStatus(ctx context.Context, channel string, userID int64) (MemberStatus, error) {
	var member tgbotapi.ChatMember

	err := c.execute(ctx, func() (any, error) {
		var err error
		member, err = c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
				SuperGroupUsername: channel,
				UserID:             userID,
			},
		})
		return nil, err
	})
	if err != nil {
		return MemberUnknown, fmt.Errorf("failed to get chat member: %w", err)
	}

	return ParseMemberStatus(member.Status), nil
}

// Send delivers a message.
func (c *Client) Send(ctx context.Context, msg tgbotapi.Chattable) error {
	return c.execute(ctx, func() (any, error) {
		return c.bot.Send(msg)
	})
}

// Request performs a call whose result carries no message, such as answering a callback.
func (c *Client) Request(ctx context.Context, req tgbotapi.Chattable) error {
	return c.execute(ctx, func() (any, error) {
		return c.bot.Request(req)
	})
}

// Updates starts long polling and returns the update channel.
func (c *Client) Updates(pollTimeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	u.AllowedUpdates = []string{"message", "channel_post", "callback_query", "my_chat_member"}

	return c.poller.GetUpdatesChan(u)
}

// StopUpdates stops long polling.
func (c *Client) StopUpdates() {
	c.poller.StopReceivingUpdates()
}

// execute runs a Bot API call under the semaphore and circuit breaker.
func (c *Client) execute(ctx context.Context, call func() (any, error)) error {
	if err := c.semaphore.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire semaphore: %w", err)
	}
	defer c.semaphore.Release(1)

	_, err := c.breaker.Execute(call)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %w", ErrBreakerOpen, err)
		}
		return err
	}

	return nil
}
