package service

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/ticketpay/internal/clock"
	"github.com/smallbiznis/ticketpay/internal/notification/domain"
	"github.com/smallbiznis/ticketpay/pkg/telemetry"
	"github.com/smallbiznis/ticketpay/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	MaxPublishAttempts = 10
	defaultBatchSize   = 50
	defaultIdleTick    = 5 * time.Second
	claimLease         = time.Minute
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      domain.Repository
	Publisher domain.Publisher
	Metrics   *telemetry.Metrics `optional:"true"`
}

// Dispatcher drains the order notification outbox. It is woken by Kick after
// a reconciliation commit and by a slow ticker as a safety net.
type Dispatcher struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      domain.Repository
	publisher domain.Publisher
	metrics   *telemetry.Metrics

	kick chan struct{}
}

func NewDispatcher(p Params) *Dispatcher {
	return &Dispatcher{
		db:        p.DB,
		log:       p.Log.Named("notification.dispatcher"),
		clock:     p.Clock,
		repo:      p.Repo,
		publisher: p.Publisher,
		metrics:   p.Metrics,
		kick:      make(chan struct{}, 1),
	}
}

// Kick never blocks; pending kicks collapse into one.
func (d *Dispatcher) Kick() {
	if d == nil {
		return
	}
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// DispatchPending publishes one batch and returns how many were delivered.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultBatchSize
	}
	start := time.Now()
	items, err := d.repo.ListPending(ctx, d.db, MaxPublishAttempts, d.clock.Now().UTC(), limit)
	if err != nil {
		d.metrics.RecordOutboxBatch("error", time.Since(start))
		return 0, err
	}

	sent := 0
	var firstErr error
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		delivered, err := d.dispatchOne(ctx, item)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if delivered {
			sent++
		}
	}

	status := "success"
	if firstErr != nil {
		status = "partial"
	}
	d.metrics.RecordOutboxBatch(status, time.Since(start))
	if backlog, err := d.repo.CountPending(ctx, d.db, MaxPublishAttempts); err == nil {
		d.metrics.SetOutboxBacklog(float64(backlog))
	}
	return sent, firstErr
}

// dispatchOne reports false without error when another dispatcher holds the row.
func (d *Dispatcher) dispatchOne(ctx context.Context, item domain.Notification) (bool, error) {
	now := d.clock.Now().UTC()
	claimed, err := d.repo.Claim(ctx, d.db, item.ID, now, now.Add(claimLease))
	if err != nil {
		return false, err
	}
	if !claimed {
		d.log.Debug("order notification claimed elsewhere", zap.String("notification_id", item.ID.String()))
		return false, nil
	}

	// The message id follows the outbox row so consumers can drop redeliveries.
	msg := domain.Message{
		ID:         item.ID.String(),
		Type:       item.EventType,
		Body:       []byte(item.Payload),
		OccurredAt: item.CreatedAt,
	}
	ctx = correlation.ContextWithCorrelationID(ctx, item.ID.String())

	start := time.Now()
	if err := d.publisher.Publish(ctx, msg); err != nil {
		d.metrics.RecordPublish(string(item.EventType), "error", time.Since(start))
		d.log.Warn("order notification publish failed",
			zap.String("notification_id", item.ID.String()),
			zap.String("event_type", string(item.EventType)),
			zap.Int("attempts", item.Attempts+1),
			zap.Error(err),
		)
		if markErr := d.repo.MarkFailed(ctx, d.db, item.ID, err.Error()); markErr != nil {
			return false, errors.Join(err, markErr)
		}
		return false, err
	}
	d.metrics.RecordPublish(string(item.EventType), "success", time.Since(start))
	if err := d.repo.MarkDispatched(ctx, d.db, item.ID, d.clock.Now().UTC()); err != nil {
		return false, err
	}
	return true, nil
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultIdleTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kick:
		case <-ticker.C:
		}
		if _, err := d.DispatchPending(ctx, defaultBatchSize); err != nil && ctx.Err() == nil {
			d.log.Warn("order notification batch failed", zap.Error(err))
		}
	}
}
