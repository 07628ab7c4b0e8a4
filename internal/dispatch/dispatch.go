package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/robalyx/reactor/internal/database/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrBatchExceedsPalette is returned when a batch could not be filled with distinct symbols.
	ErrBatchExceedsPalette = errors.New("batch size exceeds palette size")
	// ErrInvalidOptions is returned for non-positive ceiling or batch size.
	ErrInvalidOptions = errors.New("invalid dispatch options")
)

// DefaultPalette is the reaction symbol set used when none is configured.
var DefaultPalette = []string{ //nolint:gochecknoglobals // -
	"👍", "❤️", "🔥", "🎉", "⭐", "👏", "😍", "🚀", "💫", "🤩",
	"✨", "💥", "🙌", "😊", "😂", "🥰", "😎", "🤗", "👌", "💯",
}

var tracer = otel.Tracer("github.com/robalyx/reactor/internal/dispatch") //nolint:gochecknoglobals // -

// Reactor applies a set of symbols to a post in one all-or-nothing call.
type Reactor interface {
	SetReaction(ctx context.Context, target types.Target, symbols []string) error
}

// Limiter paces external calls.
type Limiter interface {
	WaitForNextSlot(ctx context.Context) error
}

// Options configures a Dispatcher.
type Options struct {
	// Ceiling caps the reactions requested per call regardless of budget.
	Ceiling int
	// BatchSize is the number of symbols sent per external call.
	BatchSize int
	// Palette is the symbol set batches are sampled from.
	Palette []string
}

// Result describes what a dispatch actually delivered.
type Result struct {
	Requested int
	Applied   int
	Symbols   []string
	Batches   int
	Failed    int
}

// Dispatcher delivers reactions in rate-limited batches of distinct symbols.
type Dispatcher struct {
	reactor   Reactor
	limiter   Limiter
	ceiling   int
	batchSize int
	palette   []string
	logger    *zap.Logger
}

// New validates the options and creates a Dispatcher.
func New(reactor Reactor, limiter Limiter, opts Options, logger *zap.Logger) (*Dispatcher, error) {
	if opts.Ceiling <= 0 || opts.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: ceiling=%d batchSize=%d", ErrInvalidOptions, opts.Ceiling, opts.BatchSize)
	}

	palette := opts.Palette
	if len(palette) == 0 {
		palette = DefaultPalette
	}

	palette = dedupe(palette)
	if opts.BatchSize > len(palette) {
		return nil, fmt.Errorf("%w: batch size %d, palette size %d", ErrBatchExceedsPalette, opts.BatchSize, len(palette))
	}

	return &Dispatcher{
		reactor:   reactor,
		limiter:   limiter,
		ceiling:   opts.Ceiling,
		batchSize: opts.BatchSize,
		palette:   palette,
		logger:    logger.Named("dispatcher"),
	}, nil
}

// Ceiling returns the per-call cap.
func (d *Dispatcher) Ceiling() int {
	return d.ceiling
}

// Dispatch sends up to min(requested, ceiling) reactions to the target.
// A failed batch is logged and skipped; the result carries whatever was applied.
// Cancellation stops before the next batch.
func (d *Dispatcher) Dispatch(ctx context.Context, target types.Target, requested int) Result {
	count := min(max(requested, 0), d.ceiling)
	result := Result{Requested: count}

	ctx, span := tracer.Start(ctx, "dispatch.Dispatch", trace.WithAttributes(
		attribute.Int64("target.surface_id", target.SurfaceID),
		attribute.Int64("target.post_id", target.PostID),
		attribute.Int("requested", requested),
		attribute.Int("clamped", count),
	))
	defer span.End()

	for _, size := range Partition(count, d.batchSize) {
		if err := d.limiter.WaitForNextSlot(ctx); err != nil {
			d.logger.Warn("Dispatch interrupted",
				zap.Stringer("target", target),
				zap.Int("applied", result.Applied),
				zap.Error(err))
			span.RecordError(err)
			break
		}

		result.Batches++

		symbols := d.sample(size)
		if err := d.reactor.SetReaction(ctx, target, symbols); err != nil {
			result.Failed++
			d.logger.Warn("Reaction batch failed",
				zap.Stringer("target", target),
				zap.Int("batch", result.Batches),
				zap.Int("size", size),
				zap.Error(err))
			span.AddEvent("batch_failed", trace.WithAttributes(
				attribute.Int("batch", result.Batches),
				attribute.String("error", err.Error()),
			))
			continue
		}

		result.Applied += size
		result.Symbols = append(result.Symbols, symbols...)
		span.AddEvent("batch_applied", trace.WithAttributes(
			attribute.Int("batch", result.Batches),
			attribute.Int("size", size),
		))
	}

	span.SetAttributes(attribute.Int("applied", result.Applied), attribute.Int("failed_batches", result.Failed))
	if result.Applied == 0 && count > 0 {
		span.SetStatus(codes.Error, "no reactions applied")
	}

	d.logger.Debug("Dispatch finished",
		zap.Stringer("target", target),
		zap.Int("requested", count),
		zap.Int("applied", result.Applied),
		zap.Int("failedBatches", result.Failed))

	return result
}

// sample draws size distinct symbols from the palette.
func (d *Dispatcher) sample(size int) []string {
	perm := rand.Perm(len(d.palette))

	symbols := make([]string, size)
	for i := range size {
		symbols[i] = d.palette[perm[i]]
	}

	return symbols
}

// Partition splits count into batches of at most size, in order.
func Partition(count, size int) []int {
	if count <= 0 || size <= 0 {
		return nil
	}

	batches := make([]int, 0, (count+size-1)/size)
	for count > 0 {
		n := min(count, size)
		batches = append(batches, n)
		count -= n
	}

	return batches
}

func dedupe(palette []string) []string {
	seen := make(map[string]struct{}, len(palette))
	out := make([]string, 0, len(palette))

	for _, symbol := range palette {
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
	}

	return out
}
