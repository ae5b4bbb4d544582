package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ticketpay/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO events (id, name, currency, payment_methods, is_active, starts_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Name,
		event.Currency,
		event.PaymentMethods,
		event.IsActive,
		event.StartsAt,
		event.CreatedAt,
		event.UpdatedAt,
	).Error
}

func (r *repo) InsertTicketType(ctx context.Context, db *gorm.DB, ticketType *domain.TicketType) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ticket_types (id, event_id, name, unit_price, currency, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ticketType.ID,
		ticketType.EventID,
		ticketType.Name,
		ticketType.UnitPrice,
		ticketType.Currency,
		ticketType.IsActive,
		ticketType.CreatedAt,
		ticketType.UpdatedAt,
	).Error
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Event, error) {
	var event domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, currency, payment_methods, is_active, starts_at, created_at, updated_at
		 FROM events WHERE id = ?`,
		id,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) ListTicketTypes(ctx context.Context, db *gorm.DB, eventID snowflake.ID) ([]domain.TicketType, error) {
	var items []domain.TicketType
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, name, unit_price, currency, is_active, created_at, updated_at
		 FROM ticket_types WHERE event_id = ? AND is_active = ?
		 ORDER BY id ASC`,
		eventID,
		true,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
