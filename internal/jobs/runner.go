package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/catalogsync/internal/clock"
	"github.com/smallbiznis/catalogsync/internal/config"
	obslogger "github.com/smallbiznis/catalogsync/internal/observability/logger"
	"github.com/smallbiznis/catalogsync/internal/observability/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type RunnerParams struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Clock    clock.Clock
	Metrics  *metrics.RunMetrics      `optional:"true"`
	Registry *prometheus.Registry     `optional:"true"`
	Pusher   metrics.Pusher           `optional:"true"`
	Tracer   *sdktrace.TracerProvider `optional:"true"`
}

// Runner executes jobs with a run id, metrics, a trace span and a final
// metrics push.
type Runner struct {
	cfg      config.Config
	log      *zap.Logger
	clock    clock.Clock
	metrics  *metrics.RunMetrics
	registry *prometheus.Registry
	pusher   metrics.Pusher
	tracer   trace.Tracer
}

func NewRunner(p RunnerParams) *Runner {
	var tracer trace.Tracer = noop.NewTracerProvider().Tracer("")
	if p.Tracer != nil {
		tracer = p.Tracer.Tracer("catalogsync/jobs")
	}
	return &Runner{
		cfg:      p.Config,
		log:      p.Log.Named("jobs"),
		clock:    p.Clock,
		metrics:  p.Metrics,
		registry: p.Registry,
		pusher:   p.Pusher,
		tracer:   tracer,
	}
}

type runLoggerKey struct{}

// logFrom returns the run-scoped logger stored by Runner, or base.
func logFrom(ctx context.Context, base *zap.Logger) *zap.Logger {
	if log, ok := ctx.Value(runLoggerKey{}).(*zap.Logger); ok && log != nil {
		return log
	}
	return base
}

// Run validates the job's requirements, runs it and records the outcome.
// A *failure.ConfigurationError is returned before the job starts.
func (r *Runner) Run(parent context.Context, job Job) (Summary, error) {
	name := job.Name()
	if pf, ok := job.(Preflight); ok {
		if err := r.cfg.Validate(pf.Requires()...); err != nil {
			return NewSummary(name), err
		}
	}

	runID := uuid.NewString()
	ctx, span := r.tracer.Start(parent, "job."+name, trace.WithAttributes(
		attribute.String("job", name),
		attribute.String("run_id", runID),
	))
	defer span.End()

	log := obslogger.WithContext(ctx, obslogger.WithRun(r.log, name, runID))
	ctx = context.WithValue(ctx, runLoggerKey{}, log)

	start := r.clock.Now()
	r.metrics.IncJobRun(name)
	log.Info("job started", zap.Bool("dry_run", r.cfg.DryRun))

	sum, err := job.Run(ctx)
	sum.Job = name
	sum.RunID = runID
	sum.Duration = r.clock.Now().Sub(start)

	r.metrics.ObserveJobDuration(name, sum.Duration)
	r.metrics.AddItems(name, metrics.OutcomeSucceeded, sum.Succeeded)
	r.metrics.AddItems(name, metrics.OutcomeFailed, sum.Failed)
	r.metrics.AddItems(name, metrics.OutcomeSkipped, sum.Skipped)
	span.SetAttributes(
		attribute.Int("succeeded", sum.Succeeded),
		attribute.Int("failed", sum.Failed),
		attribute.Int("skipped", sum.Skipped),
	)
	r.push(ctx, log)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("job failed", zap.Error(err), zap.Duration("duration", sum.Duration))
		return sum, fmt.Errorf("%s: %w", name, err)
	}
	log.Info("job finished",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}

func (r *Runner) push(ctx context.Context, log *zap.Logger) {
	if r.pusher == nil || r.registry == nil {
		return
	}
	if err := r.pusher.Push(context.WithoutCancel(ctx), r.registry); err != nil {
		log.Warn("metrics push failed", zap.Error(err))
	}
}
