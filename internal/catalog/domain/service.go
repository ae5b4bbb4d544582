package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service is the read-only pricing lookup used by registration.
type Service interface {
	GetEvent(ctx context.Context, id snowflake.ID) (*Event, error)
	ListTicketTypes(ctx context.Context, eventID snowflake.ID) ([]TicketType, error)
	// PriceTicketTypes resolves every requested ticket type of the event,
	// failing when one is unknown, inactive or priced in another currency.
	PriceTicketTypes(ctx context.Context, eventID snowflake.ID, ticketTypeIDs []snowflake.ID) (map[snowflake.ID]TicketType, error)
}

var (
	ErrEventNotFound      = errors.New("event_not_found")
	ErrEventInactive      = errors.New("event_inactive")
	ErrTicketTypeNotFound = errors.New("ticket_type_not_found")
)
