package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

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
	// WorkerLogDir specifies where worker log files are stored.
	WorkerLogDir = "logs/worker_logs"

	// ProcessWorker reacts to posts queued from managed channels.
	ProcessWorker = "process"

	// PurgeWorker removes queue items past their retention.
	PurgeWorker = "purge"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "worker",
		Usage: "Start the reactor background workers",
		Commands: []*cli.Command{
			{
				Name:  ProcessWorker,
				Usage: "Start the post processing worker",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return runWorker(ctx, ProcessWorker)
				},
			},
			{
				Name:  PurgeWorker,
				Usage: "Start the queue housekeeping worker",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return runWorker(ctx, PurgeWorker)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, os.Args)
}

// runWorker runs a single worker type under the supervisor until interrupted.
func runWorker(ctx context.Context, workerType string) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceWorker, WorkerLogDir, workerType)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup(context.WithoutCancel(ctx))

	cfg := app.Config
	workerLogger := app.LogManager.GetWorkerLogger(workerType + "_worker")
	reporter := core.NewStatusReporter(app.StatusClient, workerType, workerLogger)

	var runner core.Runner
	switch workerType {
	case ProcessWorker:
		actorID, err := setup.AutoReactActor(cfg)
		if err != nil {
			return err
		}

		tg, err := telegram.NewClient(&cfg.Bot.Telegram, &cfg.Common.CircuitBreaker, app.Logger)
		if err != nil {
			return err
		}

		services, err := setup.NewServices(app, tg)
		if err != nil {
			return err
		}

		processCfg := cfg.Worker.Processing
		runner = process.New(services.Intake, services.Reactor, process.Options{
			ActorID:      actorID,
			Count:        processCfg.AutoReactCount,
			PollInterval: config.Millis(processCfg.PollInterval),
			ErrorBackoff: config.Millis(processCfg.ErrorBackoff),
			RetryBackoff: config.Millis(processCfg.RetryBackoff),
			RetryMax:     config.Millis(processCfg.RetryMaxBackoff),
		}, services.Metrics, reporter, workerLogger)

	case PurgeWorker:
		purgeCfg := cfg.Worker.Housekeeping
		runner = purge.New(app.DB.Queue(), purge.Options{
			Interval:  config.Seconds(purgeCfg.Interval),
			Retention: config.Seconds(purgeCfg.RetentionDays * 24 * 3600),
			BatchSize: purgeCfg.BatchSize,
		}, reporter, workerLogger)

	default:
		return fmt.Errorf("invalid worker type: %s", workerType)
	}

	workerLogger.Info("Starting worker", zap.String("type", workerType))

	core.NewSupervisor(config.Millis(cfg.Worker.Supervisor.RestartDelay), workerLogger).
		Run(ctx, core.Task{Name: workerType + "_worker", Runner: runner})

	workerLogger.Info("Worker stopped", zap.String("type", workerType))
	return nil
}
