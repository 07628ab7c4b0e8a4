package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robalyx/reactor/internal/bot"
	"github.com/robalyx/reactor/internal/health"
	"github.com/robalyx/reactor/internal/setup"
	"github.com/robalyx/reactor/internal/setup/config"
	"github.com/robalyx/reactor/internal/setup/telemetry"
	"github.com/robalyx/reactor/internal/telegram"
	"github.com/robalyx/reactor/internal/worker/core"
	"github.com/robalyx/reactor/internal/worker/process"
	"github.com/robalyx/reactor/internal/worker/purge"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	// BotLogDir specifies where bot log files are stored.
	BotLogDir = "logs/bot_logs"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "bot",
		Usage: "Start the reaction bot",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-workers",
				Usage: "Only handle updates; run processing and housekeeping with the worker binary",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return start(ctx, !c.Bool("no-workers"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, os.Args)
}

func start(ctx context.Context, withWorkers bool) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceBot, BotLogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup(context.WithoutCancel(ctx))

	cfg := app.Config
	logger := app.Logger

	tg, err := telegram.NewClient(&cfg.Bot.Telegram, &cfg.Common.CircuitBreaker, logger)
	if err != nil {
		return err
	}

	services, err := setup.NewServices(app, tg)
	if err != nil {
		return err
	}

	reactionBot := bot.New(bot.Deps{
		API:     tg,
		DB:      app.DB,
		Intake:  services.Intake,
		Reactor: services.Reactor,
		Tiers:   services.Tiers,
		Gate:    services.Verifier,
		Metrics: services.Metrics,
		Workers: services.Monitor,
	}, bot.Options{
		Username:         tg.Username(),
		AdminCount:       len(cfg.Bot.Telegram.AdminIDs),
		Window:           config.Seconds(cfg.Bot.Quota.Window),
		DefaultGrantDays: cfg.Bot.Quota.DefaultGrantDays,
		Concurrency:      int(cfg.Bot.Telegram.MaxConcurrent),
	}, logger)

	// Polling only ends when stopped, so the channel is opened once for all restarts
	updates := tg.Updates(cfg.Bot.Telegram.PollTimeout)
	go func() {
		<-ctx.Done()
		tg.StopUpdates()
	}()

	healthCfg := cfg.Bot.Health
	tasks := []core.Task{
		{Name: "bot", Runner: core.RunnerFunc(func(ctx context.Context) error {
			return reactionBot.Run(ctx, updates)
		})},
		{Name: "health_server", Runner: health.NewServer(healthCfg.Port,
			health.NewHandler(app.DB, app.DB.Ledger(), app.DB.Queue(),
				services.Metrics, services.Monitor, logger), logger)},
		{Name: "health_checker", Runner: health.NewChecker(app.DB, app.DB.Channels(), services.Metrics,
			config.Seconds(healthCfg.CheckInterval), config.Seconds(healthCfg.FailureInterval), logger)},
		{Name: "keep_alive", Runner: health.NewKeepAlive(app.DB.Channels(),
			config.Seconds(healthCfg.KeepAliveInterval), logger)},
	}

	if withWorkers {
		workerTasks, err := backgroundTasks(app, services)
		if err != nil {
			return err
		}
		tasks = append(tasks, workerTasks...)
	}

	logger.Info("Bot has been started. Waiting for interrupt signal to gracefully shutdown...",
		zap.Int("tasks", len(tasks)),
		zap.Bool("workers", withWorkers))

	core.NewSupervisor(config.Millis(cfg.Worker.Supervisor.RestartDelay), logger).RunAll(ctx, tasks...)

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("Bot stopped")
	return nil
}

// backgroundTasks builds the processing and housekeeping loops.
func backgroundTasks(app *setup.App, services *setup.Services) ([]core.Task, error) {
	cfg := app.Config

	actorID, err := setup.AutoReactActor(cfg)
	if err != nil {
		return nil, err
	}

	processCfg := cfg.Worker.Processing
	processLogger := app.LogManager.GetWorkerLogger("process_worker")
	processReporter := core.NewStatusReporter(app.StatusClient, "process", processLogger)
	processWorker := process.New(services.Intake, services.Reactor, process.Options{
		ActorID:      actorID,
		Count:        processCfg.AutoReactCount,
		PollInterval: config.Millis(processCfg.PollInterval),
		ErrorBackoff: config.Millis(processCfg.ErrorBackoff),
		RetryBackoff: config.Millis(processCfg.RetryBackoff),
		RetryMax:     config.Millis(processCfg.RetryMaxBackoff),
	}, services.Metrics, processReporter, processLogger)

	purgeCfg := cfg.Worker.Housekeeping
	purgeLogger := app.LogManager.GetWorkerLogger("purge_worker")
	purgeReporter := core.NewStatusReporter(app.StatusClient, "purge", purgeLogger)
	purgeWorker := purge.New(app.DB.Queue(), purge.Options{
		Interval:  config.Seconds(purgeCfg.Interval),
		Retention: config.Seconds(purgeCfg.RetentionDays * 24 * 3600),
		BatchSize: purgeCfg.BatchSize,
	}, purgeReporter, purgeLogger)

	return []core.Task{
		{Name: "process_worker", Runner: processWorker},
		{Name: "purge_worker", Runner: purgeWorker},
	}, nil
}
