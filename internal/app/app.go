// Package app assembles the fx graph shared by every command.
package app

import (
	"github.com/smallbiznis/catalogsync/internal/catalog"
	"github.com/smallbiznis/catalogsync/internal/clock"
	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/github"
	"github.com/smallbiznis/catalogsync/internal/jobs"
	"github.com/smallbiznis/catalogsync/internal/observability"
	"github.com/smallbiznis/catalogsync/internal/ratelimit"
	"github.com/smallbiznis/catalogsync/internal/scheduler"
	"github.com/smallbiznis/catalogsync/internal/sitestats"
	"github.com/smallbiznis/catalogsync/internal/timeseries"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options wires the components needed to run any job.
func Options(cfg config.Config, opts jobs.Options) fx.Option {
	return fx.Options(
		fx.Supply(cfg, opts),

		// Core infrastructure
		config.Module,
		observability.Module,
		clock.Module,

		// Remote systems
		catalog.Module,
		github.Module,
		ratelimit.Module,
		sitestats.Module,

		// Functional domains
		timeseries.Module,
		jobs.Module,

		// The provider installs itself globally; nothing else asks for it
		// before the first span.
		fx.Invoke(func(*sdktrace.TracerProvider) {}),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
	)
}

// ScheduleOptions adds the cron scheduler on top of Options.
func ScheduleOptions(cfg config.Config, opts jobs.Options, sched scheduler.Config) fx.Option {
	return fx.Options(
		Options(cfg, opts),
		fx.Supply(sched),
		scheduler.Module,
	)
}
