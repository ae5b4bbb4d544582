package security

import "go.uber.org/fx"

var Module = fx.Module("security.gate",
	fx.Provide(NewGate),
)
