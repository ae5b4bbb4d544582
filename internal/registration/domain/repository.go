package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, session *Session) error
	FindByToken(ctx context.Context, db *gorm.DB, token string) (*Session, error)
	// UpdateExpiry moves the deadline of a session whose payment has not started.
	UpdateExpiry(ctx context.Context, db *gorm.DB, token string, expiresAt, now time.Time) (bool, error)
	// MarkPaymentStarted links the order and sets the payment deadline once.
	MarkPaymentStarted(ctx context.Context, db *gorm.DB, token string, orderID snowflake.ID, startedAt, deadline time.Time) (bool, error)
	MarkConsumed(ctx context.Context, db *gorm.DB, token string, at time.Time) error
	MarkConsumedByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, at time.Time) error
	Delete(ctx context.Context, db *gorm.DB, token string) error
	DeleteStale(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error)
}
