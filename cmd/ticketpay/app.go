package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ticketpay/internal/catalog"
	"github.com/smallbiznis/ticketpay/internal/clock"
	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/gateway"
	"github.com/smallbiznis/ticketpay/internal/notification"
	"github.com/smallbiznis/ticketpay/internal/observability"
	"github.com/smallbiznis/ticketpay/internal/order"
	"github.com/smallbiznis/ticketpay/internal/payment"
	"github.com/smallbiznis/ticketpay/internal/ratelimit"
	"github.com/smallbiznis/ticketpay/internal/reconciliation"
	"github.com/smallbiznis/ticketpay/internal/registration"
	"github.com/smallbiznis/ticketpay/internal/security"
	"github.com/smallbiznis/ticketpay/internal/webhook"
	"github.com/smallbiznis/ticketpay/pkg/db"
	"go.uber.org/fx"
)

// infrastructure is shared by every command that talks to the database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

// domain wires the payment orchestration services.
func domain() fx.Option {
	return fx.Options(
		catalog.Module,
		registration.Module,
		order.Module,
		ratelimit.Module,
		security.Module,
		gateway.Module,
		reconciliation.Module,
		payment.Module,
		webhook.Module,
		notification.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
