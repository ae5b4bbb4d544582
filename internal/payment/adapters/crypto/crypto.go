package crypto

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/ticketpay/internal/observability/logger"
	orderdomain "github.com/smallbiznis/ticketpay/internal/order/domain"
	"github.com/smallbiznis/ticketpay/internal/payment/adapters"
	"github.com/smallbiznis/ticketpay/internal/payment/domain"
	"github.com/smallbiznis/ticketpay/internal/ratelimit"
	reconciliationdomain "github.com/smallbiznis/ticketpay/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const pollLockPrefix = "ticketpay:poll:"

type Params struct {
	fx.In

	Base   *adapters.Base
	Locker ratelimit.Locker
}

// Adapter issues an on-chain invoice the visitor pays from a wallet. Status
// reads are polled and throttled per invoice, across processes when the
// locker is redis backed.
type Adapter struct {
	base        *adapters.Base
	locker      ratelimit.Locker
	minInterval time.Duration
	lockTTL     time.Duration
}

func New(p Params) *Adapter {
	polling := p.Base.Config().Polling
	lockTTL := polling.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Adapter{
		base:        p.Base,
		locker:      p.Locker,
		minInterval: polling.MinInterval,
		lockTTL:     lockTTL,
	}
}

func (a *Adapter) Method() domain.Method {
	return domain.MethodCrypto
}

func (a *Adapter) Initiate(ctx context.Context, attempt *domain.Attempt, order *orderdomain.Order) (*domain.Initiation, error) {
	attempt, err := a.base.EnsureInvoice(ctx, attempt, order, a.base.Config().Gateway.PendingURL)
	if err != nil {
		return nil, err
	}
	return &domain.Initiation{
		Attempt:     attempt,
		RedirectURL: attempt.PaymentURL,
		Crypto:      Details(attempt),
	}, nil
}

// Refresh polls the gateway unless the invoice was read within the minimum
// interval or another poll holds the lock; the stored attempt is returned then.
func (a *Adapter) Refresh(ctx context.Context, attempt *domain.Attempt) (*domain.Attempt, error) {
	if attempt.GatewayInvoiceID == "" || attempt.Status.Terminal() {
		return attempt, nil
	}
	now := a.base.Clock().Now().UTC()
	if attempt.LastPolledAt != nil && now.Sub(*attempt.LastPolledAt) < a.minInterval {
		return attempt, nil
	}

	log := logger.WithAttempt(logger.WithContext(ctx, a.base.Log()), int64(attempt.ID), attempt.GatewayInvoiceID)
	key := pollLockPrefix + attempt.GatewayInvoiceID
	token, ok, err := a.locker.TryLock(ctx, key, a.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("poll lock: %w", err)
	}
	if !ok {
		log.Debug("poll already in flight")
		return attempt, nil
	}
	defer func() {
		if err := a.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			log.Warn("poll lock release failed", zap.Error(err))
		}
	}()

	if err := a.base.TouchPolled(ctx, attempt, now); err != nil {
		return nil, err
	}
	return a.base.Reconcile(ctx, attempt, reconciliationdomain.SourcePoll)
}

func (a *Adapter) Cancel(ctx context.Context, attempt *domain.Attempt) {
	a.base.Cancel(ctx, attempt)
}

// Details returns what the visitor needs to send funds, or nil before the
// invoice is attached.
func Details(attempt *domain.Attempt) *domain.Crypto {
	if attempt == nil || attempt.CryptoAddress == "" {
		return nil
	}
	return &domain.Crypto{
		Address: attempt.CryptoAddress,
		Network: attempt.CryptoNetwork,
		Amount:  attempt.CryptoAmount,
	}
}
