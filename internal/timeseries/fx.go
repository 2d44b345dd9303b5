package timeseries

import (
	"github.com/smallbiznis/catalogsync/internal/timeseries/service"
	"go.uber.org/fx"
)

var Module = fx.Module("timeseries.service",
	fx.Provide(service.New),
)
