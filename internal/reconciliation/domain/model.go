package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
	"gorm.io/datatypes"
)

// Source names the path a status report arrived through.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceCallback Source = "callback"
	SourcePoll     Source = "poll"
	SourceSwitch   Source = "switch"
	SourceVisitor  Source = "visitor"
	SourceTimeout  Source = "timeout"
)

// GatewayDriven reports whether the status was read from the gateway. Such
// reports must carry an amount and currency that match the attempt.
func (s Source) GatewayDriven() bool {
	switch s {
	case SourceWebhook, SourceCallback, SourcePoll:
		return true
	default:
		return false
	}
}

type Outcome string

const (
	OutcomeReceived  Outcome = "received"
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeOrphan    Outcome = "orphan"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
)

// Report is a gateway-reported (or locally decided) status for an attempt.
// Webhook reports carry the event id, signature and raw payload and are
// recorded in webhook_events; other sources address the attempt directly.
type Report struct {
	Source     Source
	EventID    string
	InvoiceID  string
	AttemptID  snowflake.ID
	Status     paymentdomain.AttemptStatus
	Amount     decimal.Decimal
	Currency   string
	HasAmount  bool
	Signature  string
	Payload    []byte
	RawState   datatypes.JSON
	OccurredAt time.Time
}

// WebhookEvent is the audit and idempotency record of a verified webhook.
type WebhookEvent struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	GatewayEventID   string         `json:"gateway_event_id"`
	GatewayInvoiceID string         `json:"gateway_invoice_id"`
	ReportedStatus   string         `json:"reported_status"`
	Signature        string         `json:"-"`
	Payload          datatypes.JSON `json:"payload"`
	Outcome          Outcome        `json:"outcome"`
	ReceivedAt       time.Time      `json:"received_at"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
}

func (e WebhookEvent) Processed() bool {
	return e.ProcessedAt != nil
}

// Result describes what the engine did with a report. Reason carries the
// taxonomy error for outcomes that are logged but not surfaced.
type Result struct {
	Outcome  Outcome
	Decision Decision
	Previous paymentdomain.AttemptStatus
	Attempt  *paymentdomain.Attempt
	Reason   error
	// Notified is set when the commit wrote outbox rows.
	Notified bool
}
