package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ticketpay/internal/registration/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const sessionColumns = `token, event_id, attendee_name, attendee_email, attendee_phone, items, total, currency,
	order_id, created_at, updated_at, expires_at, payment_started_at, consumed_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, session *domain.Session) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO registration_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.Token,
		session.EventID,
		session.AttendeeName,
		session.AttendeeEmail,
		session.AttendeePhone,
		session.Items,
		session.Total,
		session.Currency,
		session.OrderID,
		session.CreatedAt,
		session.UpdatedAt,
		session.ExpiresAt,
		session.PaymentStartedAt,
		session.ConsumedAt,
	).Error
}

func (r *repo) FindByToken(ctx context.Context, db *gorm.DB, token string) (*domain.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	var session domain.Session
	err := db.WithContext(ctx).Raw(
		`SELECT `+sessionColumns+` FROM registration_sessions WHERE token = ?`,
		token,
	).Scan(&session).Error
	if err != nil {
		return nil, err
	}
	if session.Token == "" {
		return nil, nil
	}
	return &session, nil
}

func (r *repo) UpdateExpiry(ctx context.Context, db *gorm.DB, token string, expiresAt, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE registration_sessions SET expires_at = ?, updated_at = ?
		 WHERE token = ? AND payment_started_at IS NULL AND consumed_at IS NULL AND expires_at > ?`,
		expiresAt,
		now,
		token,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkPaymentStarted(ctx context.Context, db *gorm.DB, token string, orderID snowflake.ID, startedAt, deadline time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE registration_sessions
		 SET order_id = ?, payment_started_at = ?, expires_at = ?, updated_at = ?
		 WHERE token = ? AND payment_started_at IS NULL`,
		orderID,
		startedAt,
		deadline,
		startedAt,
		token,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkConsumed(ctx context.Context, db *gorm.DB, token string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE registration_sessions SET consumed_at = ?, updated_at = ?
		 WHERE token = ? AND consumed_at IS NULL`,
		at,
		at,
		token,
	).Error
}

func (r *repo) MarkConsumedByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE registration_sessions SET consumed_at = ?, updated_at = ?
		 WHERE order_id = ? AND consumed_at IS NULL`,
		at,
		at,
		orderID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, token string) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM registration_sessions WHERE token = ?`,
		token,
	).Error
}

func (r *repo) DeleteStale(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	result := db.WithContext(ctx).Exec(
		`DELETE FROM registration_sessions WHERE token IN (
			SELECT token FROM registration_sessions
			WHERE expires_at <= ? OR consumed_at IS NOT NULL
			ORDER BY expires_at ASC
			LIMIT ?
		)`,
		now,
		limit,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
