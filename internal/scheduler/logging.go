package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/catalogsync/internal/observability/logger"
	"go.uber.org/zap"
)

type pipelineRun struct {
	startedAt time.Time
	jobs      int
	failed    int
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logPipelineStart(ctx context.Context) {
	s.logger(ctx).Info("scheduler.pipeline.start",
		zap.Strings("pipeline", s.cfg.Pipeline),
	)
}

func (s *Scheduler) logPipelineFinish(ctx context.Context, run *pipelineRun, err error) {
	fields := []zap.Field{
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("jobs", run.jobs),
		zap.Int("failed_items", run.failed),
	}
	log := s.logger(ctx)
	if err != nil {
		log.Error("scheduler.pipeline.finish", append(fields, zap.Error(err))...)
		return
	}
	if run.failed > 0 {
		log.Warn("scheduler.pipeline.finish", fields...)
		return
	}
	log.Info("scheduler.pipeline.finish", fields...)
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
