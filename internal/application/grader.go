package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

// GraderConfig locates the inputs and outputs of a grading run.
type GraderConfig struct {
	Reference            string
	SubmissionsDir       string
	OutputDir            string
	SubmissionExtensions []string
}

// Grader runs the whole pipeline: it measures the reference solution,
// grades every submission against it and hands the run to the result
// sinks.
type Grader struct {
	config      GraderConfig
	extractor   ports.Extractor
	batch       *BatchProcessor
	housekeeper ports.Housekeeper
	sinks       []ports.ResultSink
	roster      *Roster
	tracker     *ProgressTracker
	logger      *zap.Logger
	metrics     ports.MetricsCollector
	tracer      trace.Tracer
	now         func() time.Time
	newID       func() string
}

// GraderOption customizes a Grader.
type GraderOption func(*Grader)

// WithHousekeeper sets the cleaner run on the output directory before and
// after the batch. Without one, CAD journal files are left in place.
func WithHousekeeper(h ports.Housekeeper) GraderOption {
	return func(g *Grader) { g.housekeeper = h }
}

// WithSinks appends result sinks, written in order once the batch ends.
// Nil sinks are skipped, and repeated options append rather than replace.
func WithSinks(sinks ...ports.ResultSink) GraderOption {
	return func(g *Grader) {
		for _, s := range sinks {
			if s != nil {
				g.sinks = append(g.sinks, s)
			}
		}
	}
}

// WithRoster enables student ID reconciliation. Parsed IDs are matched
// against the roster before grading, and students without a submission
// are logged.
func WithRoster(r *Roster) GraderOption {
	return func(g *Grader) { g.roster = r }
}

// WithProgressTracker resets tracker at the start of each run. The tracker
// must also be registered with the batch processor to receive signals.
func WithProgressTracker(p *ProgressTracker) GraderOption {
	return func(g *Grader) { g.tracker = p }
}

// WithGraderLogger sets the logger for run-level events such as the
// reference measurement and sink writes. A nil logger keeps the default
// no-op logger.
func WithGraderLogger(logger *zap.Logger) GraderOption {
	return func(g *Grader) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGraderMetrics sets the collector that receives run-level metrics.
// A nil collector keeps the no-op default.
func WithGraderMetrics(m ports.MetricsCollector) GraderOption {
	return func(g *Grader) {
		if m != nil {
			g.metrics = m
		}
	}
}

// NewGrader wires a grader. extractor measures the reference solution and
// should be the same extractor the batch uses.
func NewGrader(cfg GraderConfig, extractor ports.Extractor, batch *BatchProcessor, opts ...GraderOption) (*Grader, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required: %w", domain.ErrInvalidConfiguration)
	}
	if batch == nil {
		return nil, fmt.Errorf("batch processor is required: %w", domain.ErrInvalidConfiguration)
	}
	g := &Grader{
		config:    cfg,
		extractor: extractor,
		batch:     batch,
		logger:    zap.NewNop(),
		metrics:   ports.NopMetrics{},
		tracer:    otel.Tracer("grader"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Run grades every submission once.
//
// Configuration problems, including a reference solution that cannot be
// measured, abort the run with a *domain.ConfigurationError before any
// submission is touched. Once the batch has started, the returned run is
// always populated: a cancelled batch yields the partial results plus the
// context error, and sink failures are joined into the returned error.
func (g *Grader) Run(ctx context.Context) (domain.BatchRun, error) {
	run := domain.BatchRun{ID: g.newID(), StartedAt: g.now()}
	ctx, span := g.tracer.Start(ctx, "Grader.Run", trace.WithAttributes(attribute.String("run.id", run.ID)))
	defer span.End()

	log := g.logger.With(zap.String("run_id", run.ID))

	if err := g.checkPreconditions(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "configuration")
		return run, err
	}

	expected, err := g.measureReference(ctx, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reference")
		return run, err
	}
	run.Expected = expected

	g.clean(log)

	subs, err := DiscoverSubmissions(g.config.SubmissionsDir, g.config.SubmissionExtensions)
	if err != nil {
		cerr := domain.NewConfigurationError("submissions_dir", err)
		log.Error("cannot list submissions", zap.Error(cerr))
		span.RecordError(cerr)
		return run, cerr
	}
	if g.roster != nil {
		subs = g.roster.Reconcile(subs)
		if missing := g.roster.Missing(subs); len(missing) > 0 {
			log.Warn("students without a submission", zap.Strings("student_ids", missing))
		}
	}
	if len(subs) == 0 {
		log.Warn("no submissions found",
			zap.String("dir", g.config.SubmissionsDir),
			zap.Strings("extensions", g.config.SubmissionExtensions),
		)
	}
	if g.tracker != nil {
		g.tracker.Start(run.ID, len(subs))
	}

	results, batchErr := g.batch.Process(ctx, subs, expected, g.config.OutputDir)
	run.Results = results
	run.FinishedAt = g.now()

	g.clean(log)

	sum := run.Summary()
	g.metrics.RecordLatency("grading_run", run.FinishedAt.Sub(run.StartedAt), nil)
	g.metrics.RecordGauge("grading_mean_score", sum.MeanScore, nil)
	log.Info("grading finished",
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("extraction_failed", sum.ExtractionFailed),
		zap.Int("property_calculation_failed", sum.PropertyCalculationFailed),
		zap.Float64("mean_score", sum.MeanScore),
		zap.Bool("cancelled", batchErr != nil),
	)

	// Partial results from a cancelled batch are still worth keeping.
	sinkErr := g.write(context.WithoutCancel(ctx), log, run)

	if err := errors.Join(batchErr, sinkErr); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return run, err
	}
	span.SetStatus(codes.Ok, "")
	return run, nil
}

// checkPreconditions verifies the filesystem layout before any CAD work.
func (g *Grader) checkPreconditions() error {
	info, err := os.Stat(g.config.Reference)
	if err != nil {
		return domain.NewConfigurationError("reference", err)
	}
	if !info.Mode().IsRegular() {
		return domain.NewConfigurationError("reference", fmt.Errorf("%s is not a regular file", g.config.Reference))
	}

	info, err = os.Stat(g.config.SubmissionsDir)
	if err != nil {
		return domain.NewConfigurationError("submissions_dir", err)
	}
	if !info.IsDir() {
		return domain.NewConfigurationError("submissions_dir", fmt.Errorf("%s is not a directory", g.config.SubmissionsDir))
	}

	if err := os.MkdirAll(g.config.OutputDir, 0o750); err != nil {
		return domain.NewConfigurationError("output_dir", err)
	}
	marker, err := os.CreateTemp(g.config.OutputDir, ".cadmark-marker-*")
	if err != nil {
		return domain.NewConfigurationError("output_dir", fmt.Errorf("output directory is not writable: %w", err))
	}
	name := marker.Name()
	_ = marker.Close()
	if err := os.Remove(name); err != nil {
		return domain.NewConfigurationError("output_dir", err)
	}
	return nil
}

// measureReference extracts the expected properties. Without them no
// submission can be marked, so any failure is a configuration error.
func (g *Grader) measureReference(ctx context.Context, log *zap.Logger) (domain.ExpectedProperties, error) {
	log.Info("measuring reference solution", zap.String("reference", g.config.Reference))

	got, err := g.extractor.Extract(ctx, g.config.Reference, g.config.OutputDir)
	if err != nil {
		cerr := domain.NewConfigurationError("reference", fmt.Errorf("%w: %w", domain.ErrReferenceUnavailable, err))
		log.Error("reference solution could not be measured", zap.Error(err))
		return domain.ExpectedProperties{}, cerr
	}

	expected := domain.NewExpectedProperties(g.config.Reference, got.Properties)
	log.Info("reference measured",
		zap.Float64("volume", expected.Volume),
		zap.Float64("surface_area", expected.SurfaceArea),
		zap.Stringer("center_of_gravity", expected.CenterOfGravity),
		zap.Bool("cached", got.Cached),
	)
	for name, v := range map[string]float64{
		"volume":       expected.Volume,
		"surface_area": expected.SurfaceArea,
	} {
		if v == 0 {
			log.Warn("reference value is zero; every submission will score 0 for it", zap.String("property", name))
		}
	}
	return expected, nil
}

func (g *Grader) clean(log *zap.Logger) {
	if g.housekeeper == nil {
		return
	}
	n, err := g.housekeeper.Clean(g.config.OutputDir)
	if err != nil {
		log.Warn("housekeeping incomplete", zap.Int("removed", n), zap.Error(err))
		return
	}
	log.Debug("housekeeping done", zap.Int("removed", n))
}

// write hands run to every sink. A failing sink does not stop the others.
func (g *Grader) write(ctx context.Context, log *zap.Logger, run domain.BatchRun) error {
	var errs []error
	for _, s := range g.sinks {
		if err := s.Write(ctx, run); err != nil {
			log.Error("result sink failed", zap.String("sink", s.Name()), zap.Error(err))
			errs = append(errs, ports.NewSinkError(s.Name(), err))
			continue
		}
		log.Info("results written", zap.String("sink", s.Name()))
	}
	return errors.Join(errs...)
}

