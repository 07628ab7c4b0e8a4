package setup

import (
	"errors"
	"fmt"

	"github.com/robalyx/reactor/internal/dispatch"
	"github.com/robalyx/reactor/internal/intake"
	"github.com/robalyx/reactor/internal/membership"
	"github.com/robalyx/reactor/internal/metrics"
	"github.com/robalyx/reactor/internal/quota"
	"github.com/robalyx/reactor/internal/reaction"
	"github.com/robalyx/reactor/internal/redis"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/robalyx/reactor/internal/telegram"
	"github.com/robalyx/reactor/internal/telegram/rate"
	"github.com/robalyx/reactor/internal/worker/core"
)

// ErrNoAdmins is returned when auto-reactions need an actor but no admin is configured.
var ErrNoAdmins = errors.New("no admin IDs configured")

// Services holds the domain components shared by the bot and the workers.
type Services struct {
	Telegram *telegram.Client
	Metrics  *metrics.Accumulator
	Tiers    *quota.Resolver
	Quota    *quota.Controller
	Reactor  *reaction.Service
	Intake   *intake.Queue
	Verifier *membership.Verifier
	Monitor  *core.Monitor
}

// NewServices wires the quota, dispatch and intake layers on top of an
// initialized App and an authenticated Telegram client.
func NewServices(app *App, tg *telegram.Client) (*Services, error) {
	cfg := app.Config
	logger := app.Logger

	lockClient, err := app.RedisManager.GetClient(redis.LockDBIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get lock client: %w", err)
	}

	cacheClient, err := app.RedisManager.GetClient(redis.CacheDBIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache client: %w", err)
	}

	dispatchCfg := cfg.Worker.Dispatch
	dispatcher, err := dispatch.New(tg,
		rate.New(config.Millis(dispatchCfg.BatchDelay), config.Millis(dispatchCfg.BatchJitter)),
		dispatch.Options{
			Ceiling:   dispatchCfg.Ceiling,
			BatchSize: dispatchCfg.BatchSize,
			Palette:   dispatchCfg.Palette,
		}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	quotaCfg := cfg.Bot.Quota
	acc := metrics.NewAccumulator()
	tiers := quota.NewResolver(app.DB.Actors(), cfg.Bot.Telegram.AdminIDs,
		quotaCfg.HighBudget, quotaCfg.LowBudget, logger)
	controller := quota.NewController(tiers, app.DB.Ledger(), config.Seconds(quotaCfg.Window), logger)
	lock := quota.NewTargetLock(lockClient,
		config.Millis(quotaCfg.LockTTL), config.Millis(quotaCfg.LockWait), logger)

	tgCfg := cfg.Bot.Telegram
	verifier := membership.NewVerifier(tg, app.DB.Actors(), cacheClient, membership.Options{
		Channels: tgCfg.RequiredChannels,
		CacheTTL: config.Seconds(tgCfg.MembershipCacheTTL),
		Reverify: config.Seconds(tgCfg.ReverifyHours * 3600),
	}, logger)

	return &Services{
		Telegram: tg,
		Metrics:  acc,
		Tiers:    tiers,
		Quota:    controller,
		Reactor:  reaction.NewService(controller, dispatcher, lock, app.DB.Ledger(), acc, logger),
		Intake:   intake.NewQueue(app.DB.Queue(), cfg.Worker.Processing.PageSize, logger),
		Verifier: verifier,
		Monitor:  core.NewMonitor(app.StatusClient, logger),
	}, nil
}

// AutoReactActor returns the actor channel auto-reactions are charged to.
func AutoReactActor(cfg *config.Config) (int64, error) {
	if len(cfg.Bot.Telegram.AdminIDs) == 0 {
		return 0, ErrNoAdmins
	}
	return cfg.Bot.Telegram.AdminIDs[0], nil
}
