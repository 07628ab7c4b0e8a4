package health

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/reactor/internal/database/types"
	"github.com/robalyx/reactor/internal/metrics"
	"github.com/robalyx/reactor/internal/worker/core"
	"go.uber.org/zap"
)

// ChannelLister lists the managed channels.
type ChannelLister interface {
	ListActive(ctx context.Context) ([]*types.ManagedChannel, error)
}

// Checker periodically verifies the store and records successful checks.
type Checker struct {
	db              Pinger
	channels        ChannelLister
	metrics         *metrics.Accumulator
	interval        time.Duration
	failureInterval time.Duration
	logger          *zap.Logger
}

// NewChecker creates a Checker.
func NewChecker(
	db Pinger, channels ChannelLister, acc *metrics.Accumulator,
	interval, failureInterval time.Duration, logger *zap.Logger,
) *Checker {
	if interval <= 0 {
		interval = time.Minute
	}
	if failureInterval <= 0 {
		failureInterval = 30 * time.Second
	}

	return &Checker{
		db:              db,
		channels:        channels,
		metrics:         acc,
		interval:        interval,
		failureInterval: failureInterval,
		logger:          logger.Named("health_checker"),
	}
}

// Check pings the store and reads the channel list once.
func (c *Checker) Check(ctx context.Context) error {
	if err := c.db.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := c.channels.ListActive(ctx); err != nil {
		return fmt.Errorf("failed to list channels: %w", err)
	}

	c.metrics.MarkHealthCheck(time.Now())
	return nil
}

// Run checks on every interval, retrying sooner after a failure.
func (c *Checker) Run(ctx context.Context) error {
	for {
		delay := c.interval

		if err := c.Check(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Health check failed", zap.Error(err))
			delay = c.failureInterval
		} else {
			c.logger.Debug("Health check passed")
		}

		if !core.Sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// KeepAlive logs a heartbeat with the managed channel count so idle
// deployments show activity.
type KeepAlive struct {
	channels ChannelLister
	interval time.Duration
	retry    time.Duration
	logger   *zap.Logger
}

// NewKeepAlive creates a KeepAlive.
func NewKeepAlive(channels ChannelLister, interval time.Duration, logger *zap.Logger) *KeepAlive {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &KeepAlive{
		channels: channels,
		interval: interval,
		retry:    min(interval, time.Minute),
		logger:   logger.Named("keep_alive"),
	}
}

// Run logs until ctx is done.
func (k *KeepAlive) Run(ctx context.Context) error {
	for {
		delay := k.interval

		channels, err := k.channels.ListActive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Error("Keep-alive failed", zap.Error(err))
			delay = k.retry
		} else {
			k.logger.Info("Bot is alive", zap.Int("channels", len(channels)))
		}

		if !core.Sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}
