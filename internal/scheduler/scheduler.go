// Package scheduler runs a fixed pipeline of jobs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/catalogsync/internal/clock"
	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/jobs"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// JobRunner executes a single job.
type JobRunner interface {
	Run(ctx context.Context, job jobs.Job) (jobs.Summary, error)
}

// JobLookup resolves job names.
type JobLookup interface {
	Get(name string) (jobs.Job, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Runner   *jobs.Runner
	Registry *jobs.Registry
	Clock    clock.Clock
	Series   *config.SeriesHolder `optional:"true"`
	Config   Config               `optional:"true"`
}

type Scheduler struct {
	log    *zap.Logger
	cfg    Config
	clock  clock.Clock
	runner JobRunner
	lookup JobLookup
	series *config.SeriesHolder
	cron   *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Runner == nil || p.Registry == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return NewWith(p.Config, p.Runner, p.Registry, p.Clock, p.Series, p.Log)
}

// NewWith builds a scheduler from explicit collaborators. Every pipeline
// job name must resolve and the cron spec must parse.
func NewWith(cfg Config, runner JobRunner, lookup JobLookup, clk clock.Clock, series *config.SeriesHolder, log *zap.Logger) (*Scheduler, error) {
	if runner == nil || lookup == nil {
		return nil, ErrInvalidConfig
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	cfg = cfg.withDefaults()
	for _, name := range cfg.Pipeline {
		if _, err := lookup.Get(name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	log = log.Named("scheduler").With(zap.String("component", "scheduler"))
	cronLog := cronLogger{log: log.Sugar()}
	s := &Scheduler{
		log:    log,
		cfg:    cfg,
		clock:  clk,
		runner: runner,
		lookup: lookup,
		series: series,
		cron:   cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.SkipIfStillRunning(cronLog))),
	}
	return s, nil
}

// Start registers the pipeline with the cron schedule and starts it. Runs
// never overlap; a tick that arrives while a run is active is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Spec, func() {
		_ = s.RunPipeline(ctx)
	}); err != nil {
		return fmt.Errorf("%w: cron spec %q: %v", ErrInvalidConfig, s.cfg.Spec, err)
	}
	s.series.Watch(s.log)
	s.cron.Start()
	s.log.Info("scheduler started", zap.String("spec", s.cfg.Spec), zap.Strings("pipeline", s.cfg.Pipeline))
	return nil
}

// Stop stops the schedule and waits for a running pipeline to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunPipeline runs every pipeline job in order. A job that returns an
// error stops the pipeline; failed items do not.
func (s *Scheduler) RunPipeline(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	run := &pipelineRun{startedAt: s.clock.Now()}
	s.logPipelineStart(ctx)

	var err error
	for _, name := range s.cfg.Pipeline {
		var job jobs.Job
		job, err = s.lookup.Get(name)
		if err != nil {
			break
		}
		var sum jobs.Summary
		sum, err = s.runner.Run(ctx, job)
		run.jobs++
		run.failed += sum.Failed
		if err != nil {
			break
		}
	}
	s.logPipelineFinish(ctx, run, err)
	return err
}
