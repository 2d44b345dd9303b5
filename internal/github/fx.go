package github

import (
	"github.com/smallbiznis/catalogsync/internal/github/client"
	"go.uber.org/fx"
)

var Module = fx.Module("github.client",
	fx.Provide(client.New),
)
