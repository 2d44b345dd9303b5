package ratelimit

import (
	"context"
	"time"

	"github.com/smallbiznis/catalogsync/internal/config"
	"golang.org/x/time/rate"
)

// Pacer spaces out sequential calls to a remote API.
type Pacer struct {
	limiter *rate.Limiter
}

func NewPacer(cfg config.Config) *Pacer {
	return NewPacerEvery(cfg.RateLimit.RequestInterval)
}

// NewPacerEvery allows one call per interval. A non-positive interval
// disables pacing.
func NewPacerEvery(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
