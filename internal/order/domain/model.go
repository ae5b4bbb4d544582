package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Final reports statuses that no longer accept payment attempts.
func (s Status) Final() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Order totals and currency are frozen at creation.
type Order struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	SessionToken  string       `json:"-"`
	EventID       snowflake.ID `json:"event_id"`
	AttendeeName  string       `json:"attendee_name"`
	AttendeeEmail string       `json:"attendee_email"`
	Total         int64        `json:"total"`
	Currency      string       `json:"currency"`
	Status        Status       `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	PaidAt        *time.Time   `json:"paid_at,omitempty"`
}

type Item struct {
	OrderID      snowflake.ID `json:"-"`
	TicketTypeID snowflake.ID `json:"ticket_type_id"`
	Name         string       `json:"name"`
	Quantity     int          `json:"quantity"`
	UnitPrice    int64        `json:"unit_price"`
}
