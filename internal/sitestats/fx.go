package sitestats

import "go.uber.org/fx"

var Module = fx.Module("sitestats",
	fx.Provide(NewProber),
)
