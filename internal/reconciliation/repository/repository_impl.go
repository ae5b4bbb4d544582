package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ticketpay/internal/reconciliation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (id, gateway_event_id, gateway_invoice_id, reported_status, signature, payload, outcome, received_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (gateway_event_id) DO NOTHING`,
		event.ID,
		event.GatewayEventID,
		event.GatewayInvoiceID,
		event.ReportedStatus,
		event.Signature,
		string(event.Payload),
		event.Outcome,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, gatewayEventID string) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, gateway_event_id, gateway_invoice_id, reported_status, signature, payload, outcome, received_at, processed_at
		 FROM webhook_events WHERE gateway_event_id = ?`,
		gatewayEventID,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome domain.Outcome, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET processed_at = ?, outcome = ? WHERE id = ? AND processed_at IS NULL`,
		at,
		outcome,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) SetOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome domain.Outcome) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET outcome = ? WHERE id = ? AND processed_at IS NULL`,
		outcome,
		id,
	).Error
}
