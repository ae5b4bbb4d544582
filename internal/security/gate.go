// Package security holds the request checks that run before any gateway
// call: user agent screening and amount/currency validation.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/money"
	obsmetrics "github.com/smallbiznis/ticketpay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrSuspiciousUserAgent = errors.New("suspicious_user_agent")
	ErrCurrencyNotAllowed  = errors.New("currency_not_allowed")
	ErrAmountOutOfBounds   = errors.New("amount_out_of_bounds")
)

const (
	reasonSuspiciousUserAgent = "suspicious_user_agent"
	reasonCurrency            = "currency_not_allowed"
	reasonAmount              = "amount_out_of_bounds"
)

type Params struct {
	fx.In

	Cfg     config.PaymentConfig
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Gate struct {
	cfg     config.PaymentConfig
	agents  []string
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewGate(p Params) *Gate {
	agents := make([]string, 0, len(p.Cfg.SuspiciousUserAgents))
	for _, agent := range p.Cfg.SuspiciousUserAgents {
		agent = strings.ToLower(strings.TrimSpace(agent))
		if agent != "" {
			agents = append(agents, agent)
		}
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		cfg:     p.Cfg,
		agents:  agents,
		log:     log.Named("security.gate"),
		metrics: p.Metrics,
	}
}

// CheckUserAgent rejects empty user agents and those containing a configured
// automation signature.
func (g *Gate) CheckUserAgent(ctx context.Context, userAgent string) error {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		g.securityEvent(ctx, reasonSuspiciousUserAgent, zap.String("user_agent", ""))
		return ErrSuspiciousUserAgent
	}
	for _, agent := range g.agents {
		if strings.Contains(ua, agent) {
			g.securityEvent(ctx, reasonSuspiciousUserAgent,
				zap.String("user_agent", truncate(userAgent, 128)),
				zap.String("signature", agent),
			)
			return ErrSuspiciousUserAgent
		}
	}
	return nil
}

// CheckAmount validates an amount against the global bounds and whitelist and,
// when method is set, against that method's configuration.
func (g *Gate) CheckAmount(ctx context.Context, method string, amount decimal.Decimal, currency string) error {
	currency = money.NormalizeCurrency(currency)
	if !money.ValidCurrency(currency) || !g.cfg.AllowsCurrency(currency) {
		g.securityEvent(ctx, reasonCurrency, zap.String("currency", currency))
		return fmt.Errorf("%w: %w", paymentdomain.ErrInvalidAmountOrCurrency, ErrCurrencyNotAllowed)
	}
	if amount.LessThan(g.cfg.MinAmount) || amount.GreaterThan(g.cfg.MaxAmount) {
		g.securityEvent(ctx, reasonAmount, zap.String("amount", amount.String()), zap.String("currency", currency))
		return fmt.Errorf("%w: %w", paymentdomain.ErrInvalidAmountOrCurrency, ErrAmountOutOfBounds)
	}

	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return nil
	}
	mc, ok := g.cfg.Methods[method]
	if !ok || !mc.Enabled {
		return paymentdomain.ErrMethodUnavailable
	}
	if !containsCurrency(mc.Currencies, currency) {
		g.securityEvent(ctx, reasonCurrency, zap.String("currency", currency), zap.String("method", method))
		return fmt.Errorf("%w: %w", paymentdomain.ErrInvalidAmountOrCurrency, ErrCurrencyNotAllowed)
	}
	if amount.LessThan(mc.MinAmount) || amount.GreaterThan(mc.MaxAmount) {
		g.securityEvent(ctx, reasonAmount,
			zap.String("amount", amount.String()),
			zap.String("currency", currency),
			zap.String("method", method),
		)
		return fmt.Errorf("%w: %w", paymentdomain.ErrInvalidAmountOrCurrency, ErrAmountOutOfBounds)
	}
	return nil
}

// MethodAllows is CheckAmount without logging, for listing methods.
func (g *Gate) MethodAllows(method string, amount decimal.Decimal, currency string) bool {
	currency = money.NormalizeCurrency(currency)
	if !g.cfg.AllowsCurrency(currency) {
		return false
	}
	if amount.LessThan(g.cfg.MinAmount) || amount.GreaterThan(g.cfg.MaxAmount) {
		return false
	}
	mc, ok := g.cfg.Methods[strings.ToLower(strings.TrimSpace(method))]
	if !ok || !mc.Enabled || !containsCurrency(mc.Currencies, currency) {
		return false
	}
	return !amount.LessThan(mc.MinAmount) && !amount.GreaterThan(mc.MaxAmount)
}

func (g *Gate) securityEvent(ctx context.Context, reason string, fields ...zap.Field) {
	if g.metrics != nil {
		g.metrics.RecordSecurityEvent(ctx, reason)
	}
	fields = append([]zap.Field{
		zap.Bool("security_event", true),
		zap.String("reason", reason),
	}, fields...)
	g.log.Warn("request rejected by security gate", fields...)
}

func containsCurrency(list []string, currency string) bool {
	for _, value := range list {
		if value == currency {
			return true
		}
	}
	return false
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
