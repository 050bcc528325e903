package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethpandaops/testoor/pkg/config"
	"github.com/ethpandaops/testoor/pkg/results"
)

const tracerName = "github.com/ethpandaops/testoor/pkg/ingest"

// Config controls one Ingester. It is passed explicitly and never mutated.
type Config struct {
	// Enabled turns all sending off when false.
	Enabled          bool
	SendBuildResults bool
	SendTestResults  bool
	Concurrency      int
	Timeout          time.Duration
}

// NewConfig converts the ingest section of the application config.
func NewConfig(c config.IngestConfig) Config {
	return Config{
		Enabled:          c.Enabled,
		SendBuildResults: c.SendBuildResults,
		SendTestResults:  c.SendTestResults,
		Concurrency:      c.Concurrency,
		Timeout:          c.Timeout,
	}
}

// Ingester persists the results of completed builds.
type Ingester interface {
	// Ingest writes the build row and the test results of one build and
	// reports every unit's outcome. Only a build that cannot be mapped
	// returns an error; unit failures are part of the report.
	Ingest(ctx context.Context, build *results.Build, tree *results.Tree) (*Report, error)
}

// Compile-time interface check.
var _ Ingester = (*ingester)(nil)

// Option customises an Ingester.
type Option func(*ingester)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *ingester) { i.now = now }
}

// WithTracerProvider sets the tracer provider. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(i *ingester) { i.tracer = tp.Tracer(tracerName) }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(i *ingester) { i.metrics = m }
}

type ingester struct {
	log     logrus.FieldLogger
	writer  Writer
	cfg     Config
	now     func() time.Time
	tracer  trace.Tracer
	metrics *Metrics
}

// New creates an Ingester writing through w.
func New(log logrus.FieldLogger, w Writer, cfg Config, opts ...Option) Ingester {
	i := &ingester{
		log:    log.WithField("component", "ingest"),
		writer: w,
		cfg:    cfg,
		now:    time.Now,
		tracer: otel.GetTracerProvider().Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

func (i *ingester) Ingest(
	ctx context.Context, raw *results.Build, tree *results.Tree,
) (*Report, error) {
	start := i.now()
	runID := uuid.NewString()

	if !i.cfg.Enabled {
		i.log.WithField("run_id", runID).Debug("Ingestion disabled, nothing sent")

		return Aggregate(runID, nil, start, start), nil
	}

	ctx, span := i.tracer.Start(ctx, "testoor.ingest", trace.WithAttributes(
		attribute.String("testoor.run_id", runID),
	))
	defer span.End()

	build, err := MapBuild(raw, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, fmt.Errorf("mapping build: %w", err)
	}

	log := i.log.WithFields(logrus.Fields{
		"run_id":  runID,
		"project": build.Project,
		"build":   build.BuildNumber,
	})

	if build.SubBuildLabel != nil {
		log = log.WithField("sub_build", *build.SubBuildLabel)
	}

	span.SetAttributes(
		attribute.String("testoor.project", build.Project),
		attribute.Int("testoor.build_number", build.BuildNumber),
	)

	units := Dispatch(build, raw.Kind, tree, DispatchOptions{
		SendBuildResults: i.cfg.SendBuildResults,
		SendTestResults:  i.cfg.SendTestResults,
	}, start)

	// The build row does not depend on test results being present.
	if tree == nil && i.cfg.SendBuildResults {
		units = append(units, BuildUnit(build))
	}

	log.WithFields(logrus.Fields{
		"units": len(units),
		"cases": tree.CaseCount(),
	}).Debug("Dispatching units")

	outcomes := runUnits(ctx, units, i.execute, i.cfg.Concurrency, i.cfg.Timeout)
	report := Aggregate(runID, outcomes, start, i.now())

	for _, o := range outcomes {
		i.metrics.RecordOutcome(o)
	}

	i.metrics.RecordRun(report)

	for _, f := range report.Failures {
		log.WithFields(logrus.Fields{
			"unit":  f.UnitID,
			"error": f.Error,
		}).Warn("Unit failed")
	}

	span.SetAttributes(
		attribute.Int("testoor.units", report.Units),
		attribute.Int("testoor.rows_written", report.RowsWritten),
		attribute.Int("testoor.failed_units", report.Failed()),
	)

	if report.Failed() > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d units failed", report.Failed()))
	}

	log.WithFields(logrus.Fields{
		"units":   report.Units,
		"rows":    report.RowsWritten,
		"failed":  report.Failed(),
		"elapsed": report.Elapsed.String(),
	}).Infof("%d test results sent. Took %.1f seconds.",
		report.TestRows, report.Elapsed.Seconds())

	return report, nil
}

func (i *ingester) execute(ctx context.Context, u *Unit) Outcome {
	ctx, span := i.tracer.Start(ctx, "testoor.ingest.unit", trace.WithAttributes(
		attribute.String("testoor.unit", u.ID),
		attribute.String("testoor.table", u.Table),
		attribute.Int("testoor.rows", u.Rows()),
	))
	defer span.End()

	o := u.execute(ctx, i.writer)
	if o.Err != nil {
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, o.Err.Error())
	}

	return o
}
