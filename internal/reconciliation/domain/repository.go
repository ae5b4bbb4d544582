package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent reports false when the gateway event id is already stored.
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, gatewayEventID string) (*WebhookEvent, error)
	// MarkProcessed sets processed_at once; a second call reports false.
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome Outcome, at time.Time) (bool, error)
	SetOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome Outcome) error
}
