package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/ticketpay/internal/clock"
	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/gateway"
	"github.com/smallbiznis/ticketpay/internal/money"
	obscontext "github.com/smallbiznis/ticketpay/internal/observability/context"
	"github.com/smallbiznis/ticketpay/internal/observability/logger"
	orderdomain "github.com/smallbiznis/ticketpay/internal/order/domain"
	"github.com/smallbiznis/ticketpay/internal/payment/domain"
	reconciliationdomain "github.com/smallbiznis/ticketpay/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Gateway is the part of the gateway client the adapters drive.
type Gateway interface {
	CreateInvoice(ctx context.Context, req gateway.CreateInvoiceRequest, idempotencyKey string) (*gateway.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*gateway.Invoice, error)
	CancelInvoice(ctx context.Context, invoiceID string) (*gateway.Invoice, error)
}

type BaseParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.PaymentConfig
	Gateway  Gateway
	Attempts domain.Repository
	Engine   reconciliationdomain.Engine
}

// Base holds the invoice handling shared by every method: create once,
// read and reconcile, cancel best effort.
type Base struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	cfg      config.PaymentConfig
	gateway  Gateway
	attempts domain.Repository
	engine   reconciliationdomain.Engine
}

func NewBase(p BaseParams) *Base {
	return &Base{
		db:       p.DB,
		log:      p.Log.Named("payment.adapter"),
		clock:    p.Clock,
		cfg:      p.Cfg,
		gateway:  p.Gateway,
		attempts: p.Attempts,
		engine:   p.Engine,
	}
}

func (b *Base) Config() config.PaymentConfig { return b.cfg }

func (b *Base) Clock() clock.Clock { return b.clock }

func (b *Base) Log() *zap.Logger { return b.log }

// IdempotencyKey is sent with invoice creation so a retried request never
// produces a second invoice for the same attempt.
func IdempotencyKey(attempt *domain.Attempt) string {
	return fmt.Sprintf("attempt-%d", attempt.ID)
}

// EnsureInvoice creates the gateway invoice for a created attempt and attaches
// it, moving the attempt to pending. An attempt that already has an invoice
// is returned unchanged.
func (b *Base) EnsureInvoice(ctx context.Context, attempt *domain.Attempt, order *orderdomain.Order, returnURL string) (*domain.Attempt, error) {
	if attempt.GatewayInvoiceID != "" {
		return attempt, nil
	}
	if attempt.Status != domain.StatusCreated {
		return nil, domain.ErrPaymentInProgress
	}
	ctx = obscontext.WithAttempt(ctx, int64(attempt.ID), "")
	log := logger.WithAttempt(logger.WithContext(ctx, b.log), int64(attempt.ID), "")

	invoice, err := b.gateway.CreateInvoice(ctx, gateway.CreateInvoiceRequest{
		OrderID:       order.ID,
		AttemptID:     attempt.ID,
		Method:        attempt.Method,
		Amount:        money.FromMinor(attempt.Amount, attempt.Currency),
		Currency:      attempt.Currency,
		Description:   fmt.Sprintf("Order %d", order.ID),
		CustomerName:  order.AttendeeName,
		CustomerEmail: order.AttendeeEmail,
		NotifyURL:     b.cfg.Gateway.NotifyURL,
		ReturnURL:     returnURL,
		ExpiresAt:     attempt.ExpiresAt,
	}, IdempotencyKey(attempt))
	if err != nil {
		log.Warn("create invoice failed", zap.Error(err))
		return nil, err
	}

	details := domain.InvoiceDetails{
		InvoiceID:  invoice.ID,
		PaymentURL: invoice.PaymentURL,
		RawState:   datatypes.JSON(invoice.Raw),
	}
	if invoice.Crypto != nil {
		details.CryptoAddress = invoice.Crypto.Address
		details.CryptoNetwork = invoice.Crypto.Network
		details.CryptoAmount = invoice.Crypto.Amount
	}

	now := b.clock.Now().UTC()
	attached, err := b.attempts.AttachInvoice(ctx, b.db, attempt.ID, details, now)
	if err != nil {
		return nil, err
	}
	if !attached {
		current, err := b.attempts.FindByID(ctx, b.db, attempt.ID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.GatewayInvoiceID != "" {
			return current, nil
		}
		// The attempt was cancelled or expired while the invoice was being created.
		log.Warn("attempt left created state before invoice attach", zap.String("invoice_id", invoice.ID))
		b.cancelInvoice(ctx, invoice.ID)
		return nil, domain.ErrPaymentInProgress
	}

	attempt.GatewayInvoiceID = details.InvoiceID
	attempt.PaymentURL = details.PaymentURL
	attempt.CryptoAddress = details.CryptoAddress
	attempt.CryptoNetwork = details.CryptoNetwork
	attempt.CryptoAmount = details.CryptoAmount
	attempt.GatewayRawState = details.RawState
	attempt.Status = domain.StatusPending
	attempt.UpdatedAt = now
	log.Info("invoice attached", zap.String("invoice_id", invoice.ID))
	return attempt, nil
}

// Reconcile reads the invoice once and hands the reported status to the
// reconciliation engine. It never writes attempt state itself.
func (b *Base) Reconcile(ctx context.Context, attempt *domain.Attempt, source reconciliationdomain.Source) (*domain.Attempt, error) {
	if attempt.GatewayInvoiceID == "" || attempt.Status.Terminal() {
		return attempt, nil
	}
	ctx = obscontext.WithAttempt(ctx, int64(attempt.ID), attempt.GatewayInvoiceID)
	invoice, err := b.gateway.GetInvoice(ctx, attempt.GatewayInvoiceID)
	if err != nil {
		return nil, err
	}
	status := invoice.AttemptStatus()
	if status == "" {
		logger.WithAttempt(logger.WithContext(ctx, b.log), int64(attempt.ID), attempt.GatewayInvoiceID).
			Debug("unknown gateway status", zap.String("status", invoice.Status))
		return attempt, nil
	}

	report := reconciliationdomain.Report{
		Source:    source,
		InvoiceID: attempt.GatewayInvoiceID,
		AttemptID: attempt.ID,
		Status:    status,
		Amount:    invoice.Amount,
		Currency:  invoice.Currency,
		HasAmount: true,
		RawState:  datatypes.JSON(invoice.Raw),
	}
	result, err := b.engine.Apply(ctx, report)
	if err != nil {
		return nil, err
	}
	if result.Attempt != nil {
		return result.Attempt, nil
	}
	return attempt, nil
}

// TouchPolled records a server-side gateway read.
func (b *Base) TouchPolled(ctx context.Context, attempt *domain.Attempt, now time.Time) error {
	if err := b.attempts.TouchPolled(ctx, b.db, attempt.ID, now); err != nil {
		return err
	}
	attempt.LastPolledAt = &now
	return nil
}

func (b *Base) Cancel(ctx context.Context, attempt *domain.Attempt) {
	if attempt == nil || attempt.GatewayInvoiceID == "" {
		return
	}
	b.cancelInvoice(ctx, attempt.GatewayInvoiceID)
}

func (b *Base) cancelInvoice(ctx context.Context, invoiceID string) {
	if _, err := b.gateway.CancelInvoice(ctx, invoiceID); err != nil {
		logger.WithContext(ctx, b.log).Warn("gateway invoice cancel failed",
			zap.String("invoice_id", invoiceID),
			zap.Error(err),
		)
	}
}
