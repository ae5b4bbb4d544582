package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("order_not_found")

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order, items []Item) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindBySessionToken(ctx context.Context, db *gorm.DB, token string) (*Order, error)
	ListItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Item, error)
	// UpdateStatus moves the order to `to` only while it is in one of `from`.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, now time.Time) (bool, error)
}
