package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ticketpay/internal/notification/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const notificationColumns = `id, order_id, attempt_id, event_type, payload, attempts, last_error, created_at, claimed_until, dispatched_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, n *domain.Notification) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO order_notifications (`+notificationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (attempt_id, event_type) DO NOTHING`,
		n.ID,
		n.OrderID,
		n.AttemptID,
		n.EventType,
		string(n.Payload),
		n.Attempts,
		n.LastError,
		n.CreatedAt,
		n.ClaimedUntil,
		n.DispatchedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, maxAttempts int, now time.Time, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.Notification
	err := db.WithContext(ctx).Raw(
		`SELECT `+notificationColumns+` FROM order_notifications
		 WHERE dispatched_at IS NULL AND attempts < ?
		   AND (claimed_until IS NULL OR claimed_until <= ?)
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		maxAttempts,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now, until time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE order_notifications SET claimed_until = ?
		 WHERE id = ? AND dispatched_at IS NULL
		   AND (claimed_until IS NULL OR claimed_until <= ?)`,
		until,
		id,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkDispatched(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE order_notifications
		 SET dispatched_at = ?, claimed_until = NULL, attempts = attempts + 1, last_error = ''
		 WHERE id = ? AND dispatched_at IS NULL`,
		at,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string) error {
	if len(lastError) > 512 {
		lastError = lastError[:512]
	}
	return db.WithContext(ctx).Exec(
		`UPDATE order_notifications SET attempts = attempts + 1, last_error = ?, claimed_until = NULL WHERE id = ?`,
		lastError,
		id,
	).Error
}

func (r *repo) CountPending(ctx context.Context, db *gorm.DB, maxAttempts int) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM order_notifications WHERE dispatched_at IS NULL AND attempts < ?`,
		maxAttempts,
	).Scan(&count).Error
	return count, err
}

func (r *repo) ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.Notification, error) {
	var items []domain.Notification
	err := db.WithContext(ctx).Raw(
		`SELECT `+notificationColumns+` FROM order_notifications
		 WHERE order_id = ?
		 ORDER BY created_at ASC, id ASC`,
		orderID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
