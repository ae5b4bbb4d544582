package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventOrderPaid      EventType = "order.paid"
	EventOrderFailed    EventType = "order.failed"
	EventOrderCancelled EventType = "order.cancelled"
)

// Notification is an outbox row. At most one exists per (attempt, event type),
// which is what makes finalize side effects fire once.
type Notification struct {
	ID           snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrderID      snowflake.ID   `json:"order_id"`
	AttemptID    snowflake.ID   `json:"attempt_id"`
	EventType    EventType      `json:"event_type"`
	Payload      datatypes.JSON `json:"payload"`
	Attempts     int            `json:"attempts"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ClaimedUntil *time.Time     `json:"claimed_until,omitempty"`
	DispatchedAt *time.Time     `json:"dispatched_at,omitempty"`
}

// OrderEvent is the payload collaborators receive.
type OrderEvent struct {
	Type          EventType    `json:"type"`
	OrderID       snowflake.ID `json:"order_id"`
	AttemptID     snowflake.ID `json:"attempt_id"`
	EventID       snowflake.ID `json:"event_id"`
	OrderStatus   string       `json:"order_status"`
	AttemptStatus string       `json:"attempt_status"`
	Method        string       `json:"method"`
	Amount        string       `json:"amount"`
	Currency      string       `json:"currency"`
	AttendeeName  string       `json:"attendee_name"`
	AttendeeEmail string       `json:"attendee_email"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

// Message is one broker publish.
type Message struct {
	ID         string
	Type       EventType
	Key        string
	Body       []byte
	OccurredAt time.Time
}
