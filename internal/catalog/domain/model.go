package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Event struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Name           string       `json:"name"`
	Currency       string       `json:"currency"`
	PaymentMethods string       `json:"-"`
	IsActive       bool         `json:"is_active"`
	StartsAt       *time.Time   `json:"starts_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// AllowedMethods returns the methods the event restricts checkout to.
// An empty result means every configured method is accepted.
func (e Event) AllowedMethods() []string {
	raw := strings.TrimSpace(e.PaymentMethods)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Accepts reports whether the event allows the given payment method.
func (e Event) Accepts(method string) bool {
	allowed := e.AllowedMethods()
	if len(allowed) == 0 {
		return true
	}
	method = strings.ToLower(strings.TrimSpace(method))
	for _, m := range allowed {
		if m == method {
			return true
		}
	}
	return false
}

// TicketType prices are stored in minor units of Currency.
type TicketType struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	EventID   snowflake.ID `json:"event_id"`
	Name      string       `json:"name"`
	UnitPrice int64        `json:"unit_price"`
	Currency  string       `json:"currency"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
