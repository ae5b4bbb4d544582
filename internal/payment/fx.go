package payment

import (
	"github.com/smallbiznis/ticketpay/internal/gateway"
	"github.com/smallbiznis/ticketpay/internal/payment/adapters"
	"github.com/smallbiznis/ticketpay/internal/payment/adapters/card"
	"github.com/smallbiznis/ticketpay/internal/payment/adapters/crypto"
	"github.com/smallbiznis/ticketpay/internal/payment/repository"
	"github.com/smallbiznis/ticketpay/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(client *gateway.Client) adapters.Gateway { return client }),
	fx.Provide(adapters.NewBase),
	fx.Provide(card.New),
	fx.Provide(crypto.New),
	fx.Provide(func(c *card.Adapter, x *crypto.Adapter) *adapters.Registry {
		return adapters.NewRegistry(c, x)
	}),
	fx.Provide(service.New),
)
