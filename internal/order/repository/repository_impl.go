package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ticketpay/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, session_token, event_id, attendee_name, attendee_email, total, currency, status,
	created_at, updated_at, paid_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order, items []domain.Item) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO orders (`+orderColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID,
			order.SessionToken,
			order.EventID,
			order.AttendeeName,
			order.AttendeeEmail,
			order.Total,
			order.Currency,
			order.Status,
			order.CreatedAt,
			order.UpdatedAt,
			order.PaidAt,
		).Error; err != nil {
			return err
		}
		for _, item := range items {
			if err := tx.Exec(
				`INSERT INTO order_items (order_id, ticket_type_id, name, quantity, unit_price)
				 VALUES (?, ?, ?, ?, ?)`,
				order.ID,
				item.TicketTypeID,
				item.Name,
				item.Quantity,
				item.UnitPrice,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.findOne(ctx, db, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

func (r *repo) FindBySessionToken(ctx context.Context, db *gorm.DB, token string) (*domain.Order, error) {
	return r.findOne(ctx, db, `SELECT `+orderColumns+` FROM orders WHERE session_token = ?`, token)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.Order, error) {
	var order domain.Order
	if err := db.WithContext(ctx).Raw(query, arg).Scan(&order).Error; err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.Item, error) {
	var items []domain.Item
	err := db.WithContext(ctx).Raw(
		`SELECT order_id, ticket_type_id, name, quantity, unit_price
		 FROM order_items WHERE order_id = ? ORDER BY ticket_type_id ASC`,
		orderID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, to domain.Status, now time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	query := `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status IN ?`
	args := []any{to, now, id, from}
	if to == domain.StatusPaid {
		query = `UPDATE orders SET status = ?, updated_at = ?, paid_at = ? WHERE id = ? AND status IN ?`
		args = []any{to, now, now, id, from}
	}
	result := db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
