package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *Event) error
	InsertTicketType(ctx context.Context, db *gorm.DB, ticketType *TicketType) error
	FindEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	ListTicketTypes(ctx context.Context, db *gorm.DB, eventID snowflake.ID) ([]TicketType, error)
}
