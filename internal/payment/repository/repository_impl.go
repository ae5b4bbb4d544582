package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ticketpay/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const attemptColumns = `id, order_id, method, status, amount, currency, gateway_invoice_id, payment_url,
	crypto_address, crypto_network, crypto_amount, gateway_raw_state, expires_at, last_polled_at,
	finalized_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, attempt *domain.Attempt) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_attempts (`+attemptColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		attempt.OrderID,
		attempt.Method,
		attempt.Status,
		attempt.Amount,
		attempt.Currency,
		attempt.GatewayInvoiceID,
		attempt.PaymentURL,
		attempt.CryptoAddress,
		attempt.CryptoNetwork,
		attempt.CryptoAmount,
		rawOrNil(attempt.GatewayRawState),
		attempt.ExpiresAt,
		attempt.LastPolledAt,
		attempt.FinalizedAt,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Attempt, error) {
	return r.findOne(ctx, db, `SELECT `+attemptColumns+` FROM payment_attempts WHERE id = ?`, id)
}

func (r *repo) FindByInvoiceID(ctx context.Context, db *gorm.DB, invoiceID string) (*domain.Attempt, error) {
	if invoiceID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `SELECT `+attemptColumns+` FROM payment_attempts WHERE gateway_invoice_id = ?`, invoiceID)
}

func (r *repo) FindActiveByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.Attempt, error) {
	return r.findOne(ctx, db,
		`SELECT `+attemptColumns+` FROM payment_attempts
		 WHERE order_id = ? AND status IN ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		orderID, domain.ActiveStatuses,
	)
}

func (r *repo) FindLatestByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.Attempt, error) {
	return r.findOne(ctx, db,
		`SELECT `+attemptColumns+` FROM payment_attempts
		 WHERE order_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		orderID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Attempt, error) {
	var attempt domain.Attempt
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&attempt).Error; err != nil {
		return nil, err
	}
	if attempt.ID == 0 {
		return nil, nil
	}
	return &attempt, nil
}

func (r *repo) AttachInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, details domain.InvoiceDetails, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_attempts
		 SET gateway_invoice_id = ?, payment_url = ?, crypto_address = ?, crypto_network = ?,
			crypto_amount = ?, gateway_raw_state = ?, status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND gateway_invoice_id = ''`,
		details.InvoiceID,
		details.PaymentURL,
		details.CryptoAddress,
		details.CryptoNetwork,
		details.CryptoAmount,
		rawOrNil(details.RawState),
		domain.StatusPending,
		now,
		id,
		domain.StatusCreated,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.AttemptStatus, raw datatypes.JSON, now time.Time) (bool, error) {
	var finalizedAt *time.Time
	if to.Terminal() {
		finalizedAt = &now
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_attempts
		 SET status = ?, gateway_raw_state = COALESCE(?, gateway_raw_state),
			finalized_at = COALESCE(?, finalized_at), updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		rawOrNil(raw),
		finalizedAt,
		now,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) TouchPolled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_attempts SET last_polled_at = ? WHERE id = ?`,
		now,
		id,
	).Error
}

func (r *repo) ListOverdue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Attempt, error) {
	var items []domain.Attempt
	err := db.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+` FROM payment_attempts
		 WHERE status IN ? AND expires_at <= ?
		 ORDER BY expires_at ASC, id ASC
		 LIMIT ?`,
		domain.ActiveStatuses,
		now,
		normalizeLimit(limit),
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListPollable(ctx context.Context, db *gorm.DB, method domain.Method, polledBefore time.Time, limit int) ([]domain.Attempt, error) {
	var items []domain.Attempt
	err := db.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+` FROM payment_attempts
		 WHERE method = ? AND status IN ? AND gateway_invoice_id <> ''
			AND (last_polled_at IS NULL OR last_polled_at <= ?)
		 ORDER BY last_polled_at ASC, id ASC
		 LIMIT ?`,
		method,
		[]domain.AttemptStatus{domain.StatusPending, domain.StatusConfirming},
		polledBefore,
		normalizeLimit(limit),
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func rawOrNil(raw datatypes.JSON) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
