package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/catalogsync/internal/clock"
	"github.com/smallbiznis/catalogsync/internal/config"
	"github.com/smallbiznis/catalogsync/internal/failure"
	"github.com/smallbiznis/catalogsync/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Quota is the remaining request budget reported by a source API.
type Quota struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Source reports the current quota.
type Source interface {
	RateLimit(ctx context.Context) (Quota, error)
}

type Params struct {
	fx.In

	Config  config.Config
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.RunMetrics `optional:"true"`
}

// QuotaWaiter blocks callers while the source quota is below a threshold,
// until the quota resets plus a grace period.
type QuotaWaiter struct {
	clock      clock.Clock
	log        *zap.Logger
	metrics    *metrics.RunMetrics
	threshold  int
	checkEvery int
	grace      time.Duration
}

func NewQuotaWaiter(p Params) *QuotaWaiter {
	return &QuotaWaiter{
		clock:      p.Clock,
		log:        p.Log.Named("ratelimit"),
		metrics:    p.Metrics,
		threshold:  p.Config.RateLimit.Threshold,
		checkEvery: p.Config.RateLimit.CheckEvery,
		grace:      p.Config.RateLimit.ResetGrace,
	}
}

// Due reports whether the quota should be checked before item n (0-based).
func (w *QuotaWaiter) Due(n int) bool {
	if w.checkEvery <= 0 {
		return false
	}
	return n%w.checkEvery == 0
}

// Wait sleeps until q resets when its remaining budget is below the
// threshold. It returns how long it slept.
func (w *QuotaWaiter) Wait(ctx context.Context, q Quota) (time.Duration, error) {
	if q.Remaining >= w.threshold {
		return 0, nil
	}
	return w.sleepUntil(ctx, q.Remaining, q.Reset)
}

// Check fetches the quota from src and waits if needed.
func (w *QuotaWaiter) Check(ctx context.Context, src Source) (time.Duration, error) {
	q, err := src.RateLimit(ctx)
	if err != nil {
		return 0, err
	}
	w.log.Debug("quota", zap.Int("remaining", q.Remaining), zap.Int("limit", q.Limit))
	return w.Wait(ctx, q)
}

// Backoff waits out err when it is a *failure.RateLimitError and reports
// whether it did. Other errors are left to the caller.
func (w *QuotaWaiter) Backoff(ctx context.Context, err error) (bool, error) {
	var rl *failure.RateLimitError
	if !errors.As(err, &rl) {
		return false, nil
	}
	_, werr := w.sleepUntil(ctx, rl.Remaining, rl.Reset)
	return true, werr
}

func (w *QuotaWaiter) sleepUntil(ctx context.Context, remaining int, reset time.Time) (time.Duration, error) {
	d := reset.Sub(w.clock.Now()) + w.grace
	if d <= 0 {
		return 0, nil
	}
	w.log.Warn("rate limit low, waiting for reset",
		zap.Int("remaining", remaining),
		zap.Time("reset", reset),
		zap.Duration("wait", d),
	)
	if err := w.clock.Sleep(ctx, d); err != nil {
		return 0, err
	}
	w.metrics.AddRateLimitWait(d)
	return d, nil
}
