package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

// Default retry configuration constants.
const (
	// DefaultMaxAttempts is the default number of export-then-read attempts.
	DefaultMaxAttempts = 3
	// DefaultJitterPercent is the default jitter percentage.
	DefaultJitterPercent = 0.1
)

// BackoffType selects how the wait between attempts grows.
type BackoffType string

// Supported backoff strategies.
const (
	BackoffConstant    BackoffType = "constant"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

// RetryConfig defines how hard the extractor tries before giving up on a
// document.
type RetryConfig struct {
	// MaxAttempts is the total number of export-then-read attempts,
	// including the first. Values below 1 are treated as 1.
	MaxAttempts int

	// Backoff selects the delay growth strategy between attempts.
	Backoff BackoffType

	// BaseDelay is the wait after the first failed attempt. Zero disables
	// waiting entirely.
	BaseDelay time.Duration

	// MaxDelay caps the wait between attempts. Zero means no cap.
	MaxDelay time.Duration

	// JitterPercent adds a random percentage of the current delay so that
	// several graders sharing a CAD host do not retry in lockstep.
	// It should be between 0.0 and 1.0.
	JitterPercent float64
}

// DefaultRetryConfig returns three immediate attempts, matching how CAD
// automation is usually retried: a crashed application is relaunched on the
// next call, so waiting rarely helps.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   DefaultMaxAttempts,
		Backoff:       BackoffConstant,
		JitterPercent: DefaultJitterPercent,
	}
}

func (c RetryConfig) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

var _ ports.Extractor = (*PropertyExtractor)(nil)

// PropertyExtractor measures CAD documents by exporting them to an
// interchange file and reading that file with a geometry kernel, retrying
// the pair up to RetryConfig.MaxAttempts times.
//
// Every failure inside an attempt, panics included, is absorbed and logged;
// only after the last attempt does Extract return a *domain.ExtractionError.
// PropertyExtractor holds no per-call state, but it is intended for
// sequential use because most CAD automation cannot share a session.
type PropertyExtractor struct {
	exporter ports.Exporter
	kernel   ports.GeometryKernel
	config   RetryConfig
	logger   *zap.Logger
	metrics  ports.MetricsCollector
	tracer   trace.Tracer
	remove   func(string) error
}

// ExtractorOption customizes a PropertyExtractor.
type ExtractorOption func(*PropertyExtractor)

// WithExtractorLogger sets the logger used for per-attempt diagnostics.
// A nil logger keeps the default no-op logger.
func WithExtractorLogger(logger *zap.Logger) ExtractorOption {
	return func(e *PropertyExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithExtractorMetrics sets the collector that receives attempt counters.
// A nil collector keeps the no-op default.
func WithExtractorMetrics(m ports.MetricsCollector) ExtractorOption {
	return func(e *PropertyExtractor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewPropertyExtractor creates an extractor over the given collaborators.
func NewPropertyExtractor(
	exporter ports.Exporter,
	kernel ports.GeometryKernel,
	config RetryConfig,
	opts ...ExtractorOption,
) (*PropertyExtractor, error) {
	if exporter == nil {
		return nil, fmt.Errorf("exporter is required: %w", domain.ErrInvalidConfiguration)
	}
	if kernel == nil {
		return nil, fmt.Errorf("geometry kernel is required: %w", domain.ErrInvalidConfiguration)
	}

	e := &PropertyExtractor{
		exporter: exporter,
		kernel:   kernel,
		config:   config,
		logger:   zap.NewNop(),
		metrics:  ports.NopMetrics{},
		tracer:   otel.Tracer("property-extractor"),
		remove:   os.Remove,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract implements ports.Extractor. The first attempt on which both the
// export and the read succeed wins; its interchange file is deleted before
// returning. An export failure skips the read for that attempt.
//
// When every attempt fails the returned *domain.ExtractionError carries
// StatusPropertyCalculationFailed if any attempt produced an interchange
// file and StatusExtractionFailed otherwise.
func (e *PropertyExtractor) Extract(ctx context.Context, sourcePath, outputDir string) (domain.Extraction, error) {
	maxAttempts := e.config.attempts()
	ctx, span := e.tracer.Start(ctx, "PropertyExtractor.Extract",
		trace.WithAttributes(
			attribute.String("extract.source", sourcePath),
			attribute.Int("extract.max_attempts", maxAttempts),
		),
	)
	defer span.End()

	start := time.Now()
	log := e.logger.With(zap.String("source", sourcePath))

	var (
		lastErr  error
		produced bool
		attempt  int
	)
	for attempt = 1; attempt <= maxAttempts; attempt++ {
		props, artifact, err := e.attempt(ctx, sourcePath, outputDir)
		if err == nil {
			e.discard(log, artifact, outputDir)
			span.SetAttributes(attribute.Int("extract.attempts", attempt))
			span.SetStatus(codes.Ok, "")
			e.metrics.RecordLatency("extraction", time.Since(start), map[string]string{"status": domain.StatusSuccess.String()})
			e.metrics.RecordCounter("extractions_total", 1, map[string]string{"status": domain.StatusSuccess.String()})
			return domain.Extraction{Properties: props, Attempts: attempt}, nil
		}

		if artifact != "" {
			produced = true
		}
		lastErr = err
		log.Warn("extraction attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)

		if attempt == maxAttempts {
			break
		}
		if werr := e.wait(ctx, attempt-1); werr != nil {
			lastErr = errors.Join(lastErr, werr)
			break
		}
	}

	status := domain.StatusExtractionFailed
	if produced {
		status = domain.StatusPropertyCalculationFailed
	}
	xerr := domain.NewExtractionError(status, sourcePath, attempt, lastErr)

	log.Error("extraction failed",
		zap.String("status", status.String()),
		zap.Int("attempts", attempt),
		zap.Error(lastErr),
	)
	span.RecordError(xerr)
	span.SetStatus(codes.Error, status.String())
	e.metrics.RecordLatency("extraction", time.Since(start), map[string]string{"status": status.String()})
	e.metrics.RecordCounter("extractions_total", 1, map[string]string{"status": status.String()})

	return domain.Extraction{}, xerr
}

// attempt runs one export-then-read cycle. artifact is the interchange path
// when the export succeeded, even if the read then failed.
func (e *PropertyExtractor) attempt(
	ctx context.Context,
	sourcePath, outputDir string,
) (props domain.GeometricProperties, artifact string, err error) {
	artifact, err = e.export(ctx, sourcePath, outputDir)
	if err != nil {
		e.metrics.RecordCounter("extraction_attempts_total", 1, map[string]string{"stage": "export", "status": "error"})
		return domain.GeometricProperties{}, "", fmt.Errorf("export: %w", err)
	}
	e.metrics.RecordCounter("extraction_attempts_total", 1, map[string]string{"stage": "export", "status": "success"})

	props, err = e.read(ctx, artifact)
	if err != nil {
		e.metrics.RecordCounter("extraction_attempts_total", 1, map[string]string{"stage": "read", "status": "error"})
		return domain.GeometricProperties{}, artifact, fmt.Errorf("read %s: %w", filepath.Base(artifact), err)
	}
	e.metrics.RecordCounter("extraction_attempts_total", 1, map[string]string{"stage": "read", "status": "success"})

	return props, artifact, nil
}

// export calls the exporter, converting a panic into an error.
func (e *PropertyExtractor) export(ctx context.Context, sourcePath, outputDir string) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exporter panicked: %v", r)
		}
	}()

	path, err = e.exporter.Export(ctx, sourcePath, outputDir)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", errors.New("exporter returned no interchange file")
	}
	return path, nil
}

// read calls the kernel, converting a panic or non-finite values into an
// error.
func (e *PropertyExtractor) read(ctx context.Context, path string) (props domain.GeometricProperties, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("geometry kernel panicked: %v", r)
		}
	}()

	props, err = e.kernel.ReadProperties(ctx, path)
	if err != nil {
		return domain.GeometricProperties{}, err
	}
	if err := props.Validate(); err != nil {
		return domain.GeometricProperties{}, err
	}
	return props, nil
}

// discard deletes the interchange file of the winning attempt. Paths that
// do not resolve inside outputDir are left alone so an extractor never
// deletes a file it did not produce.
func (e *PropertyExtractor) discard(log *zap.Logger, path, outputDir string) {
	if !within(outputDir, path) {
		log.Warn("interchange file outside output directory; not deleting",
			zap.String("path", path),
			zap.String("output_dir", outputDir),
		)
		return
	}
	if err := e.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error("failed to delete interchange file", zap.String("path", path), zap.Error(err))
	}
}

// wait sleeps for the delay before the next attempt, returning early if ctx
// is cancelled.
func (e *PropertyExtractor) wait(ctx context.Context, retry int) error {
	delay := e.calculateRetryDelay(retry)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// calculateRetryDelay returns the wait before retry number retry
// (zero-based), including jitter.
func (e *PropertyExtractor) calculateRetryDelay(retry int) time.Duration {
	base := e.config.BaseDelay
	if base <= 0 {
		return 0
	}
	if retry < 0 {
		retry = 0
	}
	if retry > 30 {
		retry = 30
	}

	var delay time.Duration
	switch e.config.Backoff {
	case BackoffExponential:
		delay = base * time.Duration(1<<retry)
	case BackoffLinear:
		delay = base * time.Duration(retry+1)
	default:
		delay = base
	}
	if e.config.MaxDelay > 0 && delay > e.config.MaxDelay {
		delay = e.config.MaxDelay
	}

	jitter := int64(float64(delay) * e.config.JitterPercent)
	if jitter > 0 {
		//nolint:gosec // G404: math/rand is acceptable for retry jitter timing.
		delay += time.Duration(rand.Int64N(2*jitter) - jitter)
	}
	if delay < base {
		return base
	}
	return delay
}

// within reports whether path resolves inside dir.
func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
