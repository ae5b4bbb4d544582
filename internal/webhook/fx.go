package webhook

import "go.uber.org/fx"

var Module = fx.Module("webhook.receiver",
	fx.Provide(NewVerifier),
	fx.Provide(NewReceiver),
)
