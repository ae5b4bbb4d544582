package webhook

import (
	"context"
	"net/http"

	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ticketpay/internal/observability/metrics"
	reconciliationdomain "github.com/smallbiznis/ticketpay/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ReceiverParams struct {
	fx.In

	Cfg      config.PaymentConfig
	Log      *zap.Logger
	Verifier *Verifier
	Engine   reconciliationdomain.Engine
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Receiver verifies a gateway webhook and hands it to the reconciliation
// engine. Duplicate, orphan and illegal outcomes are not errors.
type Receiver struct {
	maxBody  int64
	log      *zap.Logger
	verifier *Verifier
	engine   reconciliationdomain.Engine
	metrics  *obsmetrics.Metrics
}

func NewReceiver(p ReceiverParams) *Receiver {
	maxBody := p.Cfg.Webhook.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 64 << 10
	}
	return &Receiver{
		maxBody:  maxBody,
		log:      p.Log.Named("webhook.receiver"),
		verifier: p.Verifier,
		engine:   p.Engine,
		metrics:  p.Metrics,
	}
}

// MaxBodyBytes is the largest body accepted before verification.
func (r *Receiver) MaxBodyBytes() int64 {
	return r.maxBody
}

func (r *Receiver) Handle(ctx context.Context, body []byte, headers http.Header) (*reconciliationdomain.Result, error) {
	if err := r.Authenticate(ctx, body, headers); err != nil {
		return nil, err
	}
	return r.Reconcile(ctx, body, headers)
}

// Authenticate enforces the body cap and the signature. Nothing in the body
// is trusted until it passes.
func (r *Receiver) Authenticate(ctx context.Context, body []byte, headers http.Header) error {
	if int64(len(body)) > r.maxBody {
		return ErrPayloadTooLarge
	}
	if err := r.verifier.Verify(ctx, body, headers); err != nil {
		r.record(ctx, "signature_invalid")
		return err
	}
	return nil
}

// Reconcile parses an authenticated body and applies it.
func (r *Receiver) Reconcile(ctx context.Context, body []byte, headers http.Header) (*reconciliationdomain.Result, error) {
	report, err := Parse(body, headers.Get(r.verifier.Header()))
	if err != nil {
		logger.WithContext(ctx, r.log).Warn("webhook payload rejected",
			zap.Bool("security_event", true),
			zap.String("reason", "malformed_payload"),
			zap.Error(err),
		)
		r.record(ctx, "malformed")
		return nil, err
	}

	return r.engine.Apply(ctx, report)
}

func (r *Receiver) record(ctx context.Context, outcome string) {
	if r.metrics != nil {
		r.metrics.RecordWebhookOutcome(ctx, outcome)
	}
}
