package catalog

import (
	"github.com/smallbiznis/catalogsync/internal/catalog/client"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.client",
	fx.Provide(client.New),
)
