package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ticketpay/internal/clock"
	"github.com/smallbiznis/ticketpay/internal/money"
	notificationdomain "github.com/smallbiznis/ticketpay/internal/notification/domain"
	obscontext "github.com/smallbiznis/ticketpay/internal/observability/context"
	"github.com/smallbiznis/ticketpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ticketpay/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/ticketpay/internal/order/domain"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
	"github.com/smallbiznis/ticketpay/internal/reconciliation/domain"
	registrationdomain "github.com/smallbiznis/ticketpay/internal/registration/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxCASRetries = 3

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Events   domain.Repository
	Attempts paymentdomain.Repository
	Orders   orderdomain.Repository
	Sessions registrationdomain.Repository
	Outbox   notificationdomain.Repository
	Notifier notificationdomain.Notifier `optional:"true"`
	Metrics  *obsmetrics.Metrics         `optional:"true"`
}

type Engine struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	events   domain.Repository
	attempts paymentdomain.Repository
	orders   orderdomain.Repository
	sessions registrationdomain.Repository
	outbox   notificationdomain.Repository
	notifier notificationdomain.Notifier
	metrics  *obsmetrics.Metrics
}

func New(p Params) domain.Engine {
	return &Engine{
		db:       p.DB,
		log:      p.Log.Named("reconciliation"),
		clock:    p.Clock,
		genID:    p.GenID,
		events:   p.Events,
		attempts: p.Attempts,
		orders:   p.Orders,
		sessions: p.Sessions,
		outbox:   p.Outbox,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

func (e *Engine) Apply(ctx context.Context, report domain.Report) (*domain.Result, error) {
	ctx = obscontext.WithAttempt(ctx, int64(report.AttemptID), report.InvoiceID)
	ctx, span := otel.Tracer("ticketpay/reconciliation").Start(ctx, "reconciliation.apply",
		trace.WithAttributes(
			attribute.String("reconciliation.source", string(report.Source)),
			attribute.String("payment.invoice_id", report.InvoiceID),
			attribute.String("payment.reported_status", string(report.Status)),
		),
	)
	defer span.End()

	var (
		result   *domain.Result
		rejected error
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, rejected, err = e.apply(ctx, tx, report)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconciliation failed")
		e.log.Error("reconciliation failed",
			zap.String("source", string(report.Source)),
			zap.String("invoice_id", report.InvoiceID),
			zap.Error(err),
		)
		return nil, err
	}
	span.SetAttributes(attribute.String("reconciliation.outcome", string(result.Outcome)))
	if result.Attempt != nil {
		span.SetAttributes(attribute.Int64("payment.attempt_id", int64(result.Attempt.ID)))
	}
	e.Committed(result)
	e.observe(ctx, report, result)
	if rejected != nil {
		return result, rejected
	}
	return result, nil
}

func (e *Engine) ApplyTx(ctx context.Context, tx *gorm.DB, report domain.Report) (*domain.Result, error) {
	ctx = obscontext.WithAttempt(ctx, int64(report.AttemptID), report.InvoiceID)
	result, rejected, err := e.apply(ctx, tx, report)
	if err != nil {
		return nil, err
	}
	e.observe(ctx, report, result)
	if rejected != nil {
		return result, rejected
	}
	return result, nil
}

func (e *Engine) Committed(result *domain.Result) {
	if result != nil && result.Notified && e.notifier != nil {
		e.notifier.Kick()
	}
}

// apply returns a rejection separately from err so the transaction still
// commits the audit record of a rejected webhook.
func (e *Engine) apply(ctx context.Context, tx *gorm.DB, report domain.Report) (*domain.Result, error, error) {
	now := e.clock.Now().UTC()

	var event *domain.WebhookEvent
	if report.Source == domain.SourceWebhook {
		stored, fresh, err := e.recordEvent(ctx, tx, report, now)
		if err != nil {
			return nil, nil, err
		}
		if !fresh && stored.Processed() {
			return &domain.Result{Outcome: domain.OutcomeDuplicate, Reason: domain.ErrDuplicateWebhook}, nil, nil
		}
		event = stored
	}

	attempt, err := e.findAttempt(ctx, tx, report)
	if err != nil {
		return nil, nil, err
	}
	if attempt == nil {
		if event != nil {
			// Left unprocessed so a redelivery can apply once the invoice is known.
			if err := e.events.SetOutcome(ctx, tx, event.ID, domain.OutcomeOrphan); err != nil {
				return nil, nil, err
			}
		}
		return &domain.Result{Outcome: domain.OutcomeOrphan, Reason: domain.ErrOrphanWebhook}, nil, nil
	}

	if (report.HasAmount || report.Source.GatewayDriven()) && !amountMatches(report, attempt) {
		if event != nil {
			if err := e.events.SetOutcome(ctx, tx, event.ID, domain.OutcomeRejected); err != nil {
				return nil, nil, err
			}
		}
		return &domain.Result{
			Outcome:  domain.OutcomeRejected,
			Previous: attempt.Status,
			Attempt:  attempt,
			Reason:   paymentdomain.ErrInvalidAmountOrCurrency,
		}, paymentdomain.ErrInvalidAmountOrCurrency, nil
	}

	result, err := e.transition(ctx, tx, report, attempt, now)
	if err != nil {
		return nil, nil, err
	}
	if event != nil {
		if _, err := e.events.MarkProcessed(ctx, tx, event.ID, result.Outcome, now); err != nil {
			return nil, nil, err
		}
	}
	return result, nil, nil
}

func (e *Engine) recordEvent(ctx context.Context, tx *gorm.DB, report domain.Report, now time.Time) (*domain.WebhookEvent, bool, error) {
	receivedAt := report.OccurredAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	event := &domain.WebhookEvent{
		ID:               e.genID.Generate(),
		GatewayEventID:   report.EventID,
		GatewayInvoiceID: report.InvoiceID,
		ReportedStatus:   string(report.Status),
		Signature:        report.Signature,
		Payload:          datatypes.JSON(report.Payload),
		Outcome:          domain.OutcomeReceived,
		ReceivedAt:       receivedAt.UTC(),
	}
	if len(event.Payload) == 0 {
		event.Payload = datatypes.JSON("{}")
	}
	inserted, err := e.events.InsertEvent(ctx, tx, event)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return event, true, nil
	}
	stored, err := e.events.FindEvent(ctx, tx, report.EventID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("webhook event %s vanished after conflict", report.EventID)
	}
	return stored, false, nil
}

func (e *Engine) findAttempt(ctx context.Context, tx *gorm.DB, report domain.Report) (*paymentdomain.Attempt, error) {
	if report.InvoiceID != "" {
		attempt, err := e.attempts.FindByInvoiceID(ctx, tx, report.InvoiceID)
		if err != nil || attempt != nil {
			return attempt, err
		}
	}
	if report.AttemptID != 0 && report.Source != domain.SourceWebhook {
		return e.attempts.FindByID(ctx, tx, report.AttemptID)
	}
	return nil, nil
}

func (e *Engine) transition(ctx context.Context, tx *gorm.DB, report domain.Report, attempt *paymentdomain.Attempt, now time.Time) (*domain.Result, error) {
	for i := 0; i < maxCASRetries; i++ {
		decision := domain.Transition(attempt.Status, report.Status)
		result := &domain.Result{Decision: decision, Previous: attempt.Status, Attempt: attempt}

		switch decision.Kind {
		case domain.NoOp, domain.Stale:
			result.Outcome = domain.OutcomeIgnored
			return result, nil
		case domain.Illegal:
			result.Outcome = domain.OutcomeIgnored
			result.Reason = domain.ErrIllegalStateTransition
			return result, nil
		}

		ok, err := e.attempts.CompareAndSetStatus(ctx, tx, attempt.ID, attempt.Status, decision.Next, report.RawState, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			reloaded, err := e.attempts.FindByID(ctx, tx, attempt.ID)
			if err != nil {
				return nil, err
			}
			if reloaded == nil {
				return nil, paymentdomain.ErrAttemptNotFound
			}
			attempt = reloaded
			continue
		}

		attempt.Status = decision.Next
		attempt.UpdatedAt = now
		if decision.Next.Terminal() {
			attempt.FinalizedAt = &now
		}
		if len(report.RawState) > 0 {
			attempt.GatewayRawState = report.RawState
		}
		result.Attempt = attempt
		result.Outcome = domain.OutcomeApplied

		notified, err := e.finalize(ctx, tx, report, attempt, now)
		if err != nil {
			return nil, err
		}
		result.Notified = notified
		return result, nil
	}
	return nil, domain.ErrConcurrentUpdate
}

// finalize carries a terminal attempt state over to the order, the session
// and the outbox in the same transaction.
func (e *Engine) finalize(ctx context.Context, tx *gorm.DB, report domain.Report, attempt *paymentdomain.Attempt, now time.Time) (bool, error) {
	var (
		from      []orderdomain.Status
		to        orderdomain.Status
		eventType notificationdomain.EventType
	)
	switch attempt.Status {
	case paymentdomain.StatusSucceeded:
		from = []orderdomain.Status{orderdomain.StatusPending, orderdomain.StatusAwaitingPayment}
		to = orderdomain.StatusPaid
		eventType = notificationdomain.EventOrderPaid
	case paymentdomain.StatusFailed, paymentdomain.StatusExpired:
		from = []orderdomain.Status{orderdomain.StatusPending, orderdomain.StatusAwaitingPayment}
		to = orderdomain.StatusFailed
		eventType = notificationdomain.EventOrderFailed
	case paymentdomain.StatusCancelled:
		// A switch cancels only the attempt; the order keeps waiting for its replacement.
		if report.Source != domain.SourceVisitor {
			return false, nil
		}
		from = []orderdomain.Status{orderdomain.StatusPending, orderdomain.StatusAwaitingPayment, orderdomain.StatusFailed}
		to = orderdomain.StatusCancelled
		eventType = notificationdomain.EventOrderCancelled
	default:
		return false, nil
	}

	moved, err := e.orders.UpdateStatus(ctx, tx, attempt.OrderID, from, to, now)
	if err != nil {
		return false, err
	}
	if !moved {
		e.log.Warn("order not in a state to follow attempt",
			zap.String("order_id", attempt.OrderID.String()),
			zap.String("attempt_status", string(attempt.Status)),
			zap.String("order_target", string(to)),
		)
		return false, nil
	}
	if to == orderdomain.StatusPaid {
		if err := e.sessions.MarkConsumedByOrder(ctx, tx, attempt.OrderID, now); err != nil {
			return false, err
		}
	}

	order, err := e.orders.FindByID(ctx, tx, attempt.OrderID)
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, orderdomain.ErrOrderNotFound
	}
	payload, err := json.Marshal(notificationdomain.OrderEvent{
		Type:          eventType,
		OrderID:       order.ID,
		AttemptID:     attempt.ID,
		EventID:       order.EventID,
		OrderStatus:   string(order.Status),
		AttemptStatus: string(attempt.Status),
		Method:        string(attempt.Method),
		Amount:        money.Format(attempt.Amount, attempt.Currency),
		Currency:      attempt.Currency,
		AttendeeName:  order.AttendeeName,
		AttendeeEmail: order.AttendeeEmail,
		OccurredAt:    now,
	})
	if err != nil {
		return false, err
	}
	return e.outbox.Insert(ctx, tx, &notificationdomain.Notification{
		ID:        e.genID.Generate(),
		OrderID:   order.ID,
		AttemptID: attempt.ID,
		EventType: eventType,
		Payload:   datatypes.JSON(payload),
		CreatedAt: now,
	})
}

func amountMatches(report domain.Report, attempt *paymentdomain.Attempt) bool {
	if !report.HasAmount || report.Currency == "" {
		return false
	}
	if money.NormalizeCurrency(report.Currency) != money.NormalizeCurrency(attempt.Currency) {
		return false
	}
	minor, err := money.ToMinor(report.Amount, attempt.Currency)
	if err != nil {
		return false
	}
	return minor == attempt.Amount
}

func (e *Engine) observe(ctx context.Context, report domain.Report, result *domain.Result) {
	if result == nil {
		return
	}
	log := logger.WithContext(ctx, e.log).With(
		zap.String("source", string(report.Source)),
		zap.String("outcome", string(result.Outcome)),
	)
	if result.Attempt != nil {
		log = logger.WithAttempt(log, int64(result.Attempt.ID), result.Attempt.GatewayInvoiceID)
	} else if report.InvoiceID != "" {
		log = log.With(zap.String("invoice_id", report.InvoiceID))
	}
	if report.EventID != "" {
		log = log.With(zap.String("gateway_event_id", report.EventID))
	}

	switch result.Outcome {
	case domain.OutcomeApplied:
		log.Info("attempt transitioned",
			zap.String("from", string(result.Previous)),
			zap.String("to", string(result.Decision.Next)),
		)
		if e.metrics != nil {
			e.metrics.RecordTransition(ctx, string(report.Source), string(result.Previous), string(result.Decision.Next))
			if result.Attempt != nil {
				e.metrics.RecordPaymentEvent(ctx, string(result.Attempt.Method), string(result.Decision.Next))
			}
		}
	case domain.OutcomeDuplicate:
		log.Info("duplicate webhook discarded")
	case domain.OutcomeOrphan:
		log.Warn("orphan report discarded")
	case domain.OutcomeRejected:
		log.Warn("report amount or currency mismatch",
			zap.Bool("security_event", true),
			zap.String("reason", "amount_currency_mismatch"),
			zap.String("reported_amount", report.Amount.String()),
			zap.String("reported_currency", report.Currency),
		)
		if e.metrics != nil {
			e.metrics.RecordSecurityEvent(ctx, "amount_currency_mismatch")
		}
	case domain.OutcomeIgnored:
		if result.Reason != nil {
			log.Warn("illegal state transition discarded",
				zap.String("current", string(result.Previous)),
				zap.String("reported", string(report.Status)),
			)
		} else {
			log.Debug("stale report ignored",
				zap.String("current", string(result.Previous)),
				zap.String("reported", string(report.Status)),
			)
		}
	}
	if report.Source == domain.SourceWebhook && e.metrics != nil {
		e.metrics.RecordWebhookOutcome(ctx, string(result.Outcome))
	}
}
