package reconciliation

import (
	"github.com/smallbiznis/ticketpay/internal/reconciliation/repository"
	"github.com/smallbiznis/ticketpay/internal/reconciliation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
