package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// LineItem prices are frozen from the catalog at session creation, in minor units.
type LineItem struct {
	TicketTypeID snowflake.ID `json:"ticket_type_id"`
	Name         string       `json:"name"`
	Quantity     int          `json:"quantity"`
	UnitPrice    int64        `json:"unit_price"`
}

func (l LineItem) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Session is an unconfirmed registration keyed by an opaque token.
// Once payment starts, ExpiresAt is moved to the payment deadline and
// no longer extended.
type Session struct {
	Token            string                       `json:"token"`
	EventID          snowflake.ID                 `json:"event_id"`
	AttendeeName     string                       `json:"attendee_name"`
	AttendeeEmail    string                       `json:"attendee_email"`
	AttendeePhone    string                       `json:"attendee_phone,omitempty"`
	Items            datatypes.JSONSlice[LineItem] `json:"items"`
	Total            int64                        `json:"total"`
	Currency         string                       `json:"currency"`
	OrderID          *snowflake.ID                `json:"order_id,omitempty"`
	CreatedAt        time.Time                    `json:"created_at"`
	UpdatedAt        time.Time                    `json:"updated_at"`
	ExpiresAt        time.Time                    `json:"expires_at"`
	PaymentStartedAt *time.Time                   `json:"payment_started_at,omitempty"`
	ConsumedAt       *time.Time                   `json:"consumed_at,omitempty"`
}

func (s Session) Attendee() Attendee {
	return Attendee{Name: s.AttendeeName, Email: s.AttendeeEmail, Phone: s.AttendeePhone}
}

// Expired reports whether the session deadline has passed at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s Session) PaymentStarted() bool {
	return s.PaymentStartedAt != nil
}

func (s Session) Consumed() bool {
	return s.ConsumedAt != nil
}
