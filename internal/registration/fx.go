package registration

import (
	"github.com/smallbiznis/ticketpay/internal/registration/repository"
	"github.com/smallbiznis/ticketpay/internal/registration/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registration.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
