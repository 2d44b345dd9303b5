package config

import "go.uber.org/fx"

// Module expects Config to be supplied by the caller, which loads it before
// the app is built so configuration errors surface ahead of any wiring.
var Module = fx.Module("config",
	fx.Provide(func(cfg Config) (*SeriesHolder, error) {
		return NewSeriesHolder(cfg.SeriesConfigPath)
	}),
)
