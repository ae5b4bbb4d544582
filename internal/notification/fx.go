package notification

import (
	"context"

	"github.com/smallbiznis/ticketpay/internal/notification/domain"
	"github.com/smallbiznis/ticketpay/internal/notification/publisher"
	"github.com/smallbiznis/ticketpay/internal/notification/repository"
	"github.com/smallbiznis/ticketpay/internal/notification/service"
	"github.com/smallbiznis/ticketpay/pkg/telemetry"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.outbox",
	fx.Provide(repository.Provide),
	fx.Provide(publisher.New),
	fx.Provide(telemetry.NewMetrics),
	fx.Provide(service.NewDispatcher),
	fx.Provide(func(d *service.Dispatcher) domain.Notifier { return d }),
)

// RunDispatcher keeps the dispatcher loop alive for the lifetime of the app.
var RunDispatcher = fx.Invoke(func(lc fx.Lifecycle, d *service.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				d.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
})
