package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

// BatchProcessor grades submissions one at a time against a single set of
// expected properties.
//
// A failure on one submission is recorded in its result and never affects
// the others. Process only returns an error when ctx is cancelled, and even
// then it returns every result completed so far.
type BatchProcessor struct {
	extractor ports.Extractor
	scale     domain.Scale
	observers []ports.ProgressObserver
	logger    *zap.Logger
	metrics   ports.MetricsCollector
	tracer    trace.Tracer
}

// BatchOption customizes a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithScale overrides the default tolerance table. An empty scale is
// ignored, so the processor always grades against some table.
func WithScale(s domain.Scale) BatchOption {
	return func(b *BatchProcessor) {
		if len(s) > 0 {
			b.scale = s
		}
	}
}

// WithObservers registers progress observers, called in order after every
// submission. Nil observers are skipped, and repeated options append rather
// than replace.
func WithObservers(obs ...ports.ProgressObserver) BatchOption {
	return func(b *BatchProcessor) {
		for _, o := range obs {
			if o != nil {
				b.observers = append(b.observers, o)
			}
		}
	}
}

// WithBatchLogger sets the logger for per-submission outcomes. A nil
// logger keeps the default no-op logger.
func WithBatchLogger(logger *zap.Logger) BatchOption {
	return func(b *BatchProcessor) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBatchMetrics sets the collector that receives per-submission
// counters and batch gauges. A nil collector keeps the no-op default.
func WithBatchMetrics(m ports.MetricsCollector) BatchOption {
	return func(b *BatchProcessor) {
		if m != nil {
			b.metrics = m
		}
	}
}

// NewBatchProcessor creates a processor that measures submissions with
// extractor.
func NewBatchProcessor(extractor ports.Extractor, opts ...BatchOption) (*BatchProcessor, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required: %w", domain.ErrInvalidConfiguration)
	}
	b := &BatchProcessor{
		extractor: extractor,
		scale:     domain.DefaultScale(),
		logger:    zap.NewNop(),
		metrics:   ports.NopMetrics{},
		tracer:    otel.Tracer("batch-processor"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Scale returns the tolerance table used for marking.
func (b *BatchProcessor) Scale() domain.Scale { return b.scale }

// Process grades submissions in order and returns one result per
// submission in the same order.
//
// ctx is checked between submissions only; a submission already being
// extracted always runs to completion so no half-written interchange file
// is abandoned. On cancellation the partial results are returned together
// with ctx.Err().
func (b *BatchProcessor) Process(
	ctx context.Context,
	submissions []domain.Submission,
	expected domain.ExpectedProperties,
	outputDir string,
) ([]domain.SubmissionResult, error) {
	total := len(submissions)
	ctx, span := b.tracer.Start(ctx, "BatchProcessor.Process",
		trace.WithAttributes(attribute.Int("batch.size", total)),
	)
	defer span.End()

	b.logger.Info("grading batch", zap.Int("submissions", total), zap.String("output_dir", outputDir))
	b.metrics.RecordGauge("batch_submissions", float64(total), nil)

	results := make([]domain.SubmissionResult, 0, total)
	for i, sub := range submissions {
		if err := ctx.Err(); err != nil {
			b.logger.Warn("batch cancelled",
				zap.Int("completed", len(results)),
				zap.Int("remaining", total-len(results)),
			)
			span.SetStatus(codes.Error, "cancelled")
			span.RecordError(err)
			return results, err
		}

		res := b.grade(context.WithoutCancel(ctx), sub, expected, outputDir)
		results = append(results, res)
		b.record(res)
		b.notify(i+1, total, res)
	}

	span.SetAttributes(attribute.Int("batch.completed", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// grade measures and marks one submission. It never fails; extraction
// errors become failure results.
func (b *BatchProcessor) grade(
	ctx context.Context,
	sub domain.Submission,
	expected domain.ExpectedProperties,
	outputDir string,
) domain.SubmissionResult {
	log := b.logger.With(zap.String("student_id", sub.StudentID))
	log.Info("processing submission", zap.String("source", sub.SourcePath))

	start := time.Now()
	got, err := b.extractor.Extract(ctx, sub.SourcePath, outputDir)
	if err != nil {
		status, attempts := classify(err)
		log.Error("submission failed",
			zap.String("status", status.String()),
			zap.Int("attempts", attempts),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return domain.NewFailedResult(sub, status, attempts, err)
	}

	marks := b.scale.MarkSet(got.Properties, expected)
	log.Info("submission graded",
		zap.Float64("volume_mark", marks.VolumeMark),
		zap.Float64("surface_area_mark", marks.SurfaceAreaMark),
		zap.Float64("cg_mark", marks.CGMark),
		zap.Int("attempts", got.Attempts),
		zap.Bool("cached", got.Cached),
		zap.Duration("elapsed", time.Since(start)),
	)
	return domain.NewSuccessResult(sub, got.Properties, marks, got.Attempts)
}

// classify maps an extractor error onto a failure status. Errors that are
// not *domain.ExtractionError count as export failures.
func classify(err error) (domain.Status, int) {
	var xerr *domain.ExtractionError
	if errors.As(err, &xerr) && xerr.Status != domain.StatusSuccess {
		return xerr.Status, xerr.Attempts
	}
	return domain.StatusExtractionFailed, 0
}

func (b *BatchProcessor) record(res domain.SubmissionResult) {
	labels := map[string]string{"status": res.Status.String()}
	b.metrics.RecordCounter("submissions_total", 1, labels)
	if res.Succeeded() {
		b.metrics.RecordHistogram("submission_score", res.Total(), nil)
	}
}

// notify calls every observer. A panicking observer is logged and skipped
// so monitoring can never break grading.
func (b *BatchProcessor) notify(done, total int, res domain.SubmissionResult) {
	b.metrics.RecordGauge("batch_completed", float64(done), nil)
	for _, o := range b.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("progress observer panicked", zap.Any("panic", r))
				}
			}()
			o.OnProgress(done, total, res)
		}()
	}
}
