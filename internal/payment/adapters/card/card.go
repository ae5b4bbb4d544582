package card

import (
	"context"

	orderdomain "github.com/smallbiznis/ticketpay/internal/order/domain"
	"github.com/smallbiznis/ticketpay/internal/payment/adapters"
	"github.com/smallbiznis/ticketpay/internal/payment/domain"
	reconciliationdomain "github.com/smallbiznis/ticketpay/internal/reconciliation/domain"
)

// Adapter sends the visitor to the gateway's hosted card page. The callback
// only triggers a status re-check; the webhook normally settles the attempt.
type Adapter struct {
	base *adapters.Base
}

func New(base *adapters.Base) *Adapter {
	return &Adapter{base: base}
}

func (a *Adapter) Method() domain.Method {
	return domain.MethodCard
}

func (a *Adapter) Initiate(ctx context.Context, attempt *domain.Attempt, order *orderdomain.Order) (*domain.Initiation, error) {
	attempt, err := a.base.EnsureInvoice(ctx, attempt, order, a.base.Config().Gateway.CallbackURL)
	if err != nil {
		return nil, err
	}
	return &domain.Initiation{Attempt: attempt, RedirectURL: attempt.PaymentURL}, nil
}

func (a *Adapter) Refresh(ctx context.Context, attempt *domain.Attempt) (*domain.Attempt, error) {
	return a.base.Reconcile(ctx, attempt, reconciliationdomain.SourceCallback)
}

func (a *Adapter) Cancel(ctx context.Context, attempt *domain.Attempt) {
	a.base.Cancel(ctx, attempt)
}
