package core

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Runner is a long-running background task. Run should block until ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Task is a named Runner.
type Task struct {
	Name   string
	Runner Runner
}

// Supervisor restarts tasks that return or panic after a constant delay,
// with no limit on restarts. Only context cancellation stops a task.
type Supervisor struct {
	restartDelay time.Duration
	logger       *zap.Logger
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(restartDelay time.Duration, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		restartDelay: restartDelay,
		logger:       logger.Named("supervisor"),
	}
}

// Run keeps the task running until ctx is done.
func (s *Supervisor) Run(ctx context.Context, task Task) {
	logger := s.logger.With(zap.String("task", task.Name))
	policy := backoff.WithContext(backoff.NewConstantBackOff(s.restartDelay), ctx)

	for {
		if ctx.Err() != nil {
			logger.Info("Context cancelled, stopping task")
			return
		}

		logger.Info("Starting task")

		err := s.runOnce(ctx, task.Runner)
		if ctx.Err() != nil {
			logger.Info("Task stopped")
			return
		}

		if err != nil {
			logger.Error("Task failed", zap.Error(err))
		} else {
			logger.Warn("Task stopped unexpectedly")
		}

		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			return
		}

		logger.Info("Restarting task", zap.Duration("delay", delay))

		if !Sleep(ctx, delay) {
			return
		}
	}
}

// RunAll supervises every task concurrently and returns once all have stopped.
func (s *Supervisor) RunAll(ctx context.Context, tasks ...Task) {
	var wg conc.WaitGroup
	for _, task := range tasks {
		wg.Go(func() {
			s.Run(ctx, task)
		})
	}
	wg.Wait()
}

// runOnce runs the task, turning a panic into an error.
func (s *Supervisor) runOnce(ctx context.Context, runner Runner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()

	return runner.Run(ctx)
}

// Sleep waits for d or until ctx is done. Reports whether the full duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
