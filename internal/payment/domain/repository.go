package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, attempt *Attempt) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Attempt, error)
	FindByInvoiceID(ctx context.Context, db *gorm.DB, invoiceID string) (*Attempt, error)
	FindActiveByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Attempt, error)
	FindLatestByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Attempt, error)
	// AttachInvoice records the gateway invoice and moves created -> pending.
	AttachInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, details InvoiceDetails, now time.Time) (bool, error)
	// CompareAndSetStatus is the only status writer; it succeeds only while the stored status equals from.
	CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to AttemptStatus, raw datatypes.JSON, now time.Time) (bool, error)
	TouchPolled(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	ListOverdue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Attempt, error)
	ListPollable(ctx context.Context, db *gorm.DB, method Method, polledBefore time.Time, limit int) ([]Attempt, error)
}
