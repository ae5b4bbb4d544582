package gateway

import "go.uber.org/fx"

var Module = fx.Module("gateway.client",
	fx.Provide(NewClient),
)
