package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert is a no-op when the (attempt, event type) row already exists.
	Insert(ctx context.Context, db *gorm.DB, n *Notification) (bool, error)
	// ListPending skips rows another dispatcher holds a live claim on.
	ListPending(ctx context.Context, db *gorm.DB, maxAttempts int, now time.Time, limit int) ([]Notification, error)
	// Claim leases a pending row until the given time. Only one caller wins.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now, until time.Time) (bool, error)
	MarkDispatched(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string) error
	CountPending(ctx context.Context, db *gorm.DB, maxAttempts int) (int64, error)
	ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Notification, error)
}
