package publisher

import (
	"context"

	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New picks the AMQP publisher when a broker url is configured.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) domain.Publisher {
	if cfg.AMQPURL == "" {
		log.Warn("AMQP_URL not set; order notifications are logged only")
		return NewLogPublisher(log)
	}
	pub := NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub
}
