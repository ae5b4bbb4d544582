package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

const MaxQuantityPerItem = 10

type ItemRequest struct {
	TicketTypeID snowflake.ID `json:"ticket_type_id"`
	Quantity     int          `json:"quantity"`
}

type CreateRequest struct {
	EventID  snowflake.ID
	Attendee Attendee
	Items    []ItemRequest
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Session, error)
	Extend(ctx context.Context, token string) (*Session, error)
	Read(ctx context.Context, token string) (*Session, error)
	Destroy(ctx context.Context, token string) error
	ReapExpired(ctx context.Context, limit int) (int64, error)
}

var (
	ErrSessionNotFound = errors.New("session_not_found")
	ErrSessionExpired  = errors.New("session_expired")
	ErrInvalidAttendee = errors.New("invalid_attendee")
	ErrInvalidItems    = errors.New("invalid_items")
	ErrInvalidTotal    = errors.New("invalid_total")
)
