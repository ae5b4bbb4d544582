package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Method string

const (
	MethodCard   Method = "card"
	MethodCrypto Method = "crypto"
)

func (m Method) Valid() bool {
	return m == MethodCard || m == MethodCrypto
}

type AttemptStatus string

const (
	StatusCreated    AttemptStatus = "created"
	StatusPending    AttemptStatus = "pending"
	StatusConfirming AttemptStatus = "confirming"
	StatusSucceeded  AttemptStatus = "succeeded"
	StatusFailed     AttemptStatus = "failed"
	StatusExpired    AttemptStatus = "expired"
	StatusCancelled  AttemptStatus = "cancelled"
)

// ActiveStatuses are the non-terminal attempt states. An order holds at most
// one attempt in any of them.
var ActiveStatuses = []AttemptStatus{StatusCreated, StatusPending, StatusConfirming}

func (s AttemptStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusPending, StatusConfirming,
		StatusSucceeded, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s AttemptStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Rank orders statuses along the forward path created -> pending -> confirming -> terminal.
func (s AttemptStatus) Rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusPending:
		return 1
	case StatusConfirming:
		return 2
	default:
		return 3
	}
}

// Attempt is one gateway invoice for an order. Amount is in minor units.
type Attempt struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrderID          snowflake.ID   `json:"order_id"`
	Method           Method         `json:"method"`
	Status           AttemptStatus  `json:"status"`
	Amount           int64          `json:"amount"`
	Currency         string         `json:"currency"`
	GatewayInvoiceID string         `json:"gateway_invoice_id,omitempty"`
	PaymentURL       string         `json:"payment_url,omitempty"`
	CryptoAddress    string         `json:"crypto_address,omitempty"`
	CryptoNetwork    string         `json:"crypto_network,omitempty"`
	CryptoAmount     string         `json:"crypto_amount,omitempty"`
	GatewayRawState  datatypes.JSON `json:"-"`
	ExpiresAt        time.Time      `json:"expires_at"`
	LastPolledAt     *time.Time     `json:"last_polled_at,omitempty"`
	FinalizedAt      *time.Time     `json:"finalized_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Overdue reports a non-terminal attempt whose payment deadline has passed.
func (a Attempt) Overdue(now time.Time) bool {
	return !a.Status.Terminal() && !now.Before(a.ExpiresAt)
}

// InvoiceDetails are the gateway facts attached to an attempt after creation.
type InvoiceDetails struct {
	InvoiceID     string
	PaymentURL    string
	CryptoAddress string
	CryptoNetwork string
	CryptoAmount  string
	RawState      datatypes.JSON
}

// Initiation is what the visitor needs to complete payment.
type Initiation struct {
	Attempt     *Attempt `json:"attempt"`
	RedirectURL string   `json:"redirect_url,omitempty"`
	Crypto      *Crypto  `json:"crypto,omitempty"`
}

type Crypto struct {
	Address string `json:"address"`
	Network string `json:"network"`
	Amount  string `json:"amount"`
}

// StatusView is the visitor-facing snapshot after a status read or re-check.
type StatusView struct {
	AttemptID   snowflake.ID  `json:"attempt_id"`
	InvoiceID   string        `json:"invoice_id"`
	Method      Method        `json:"method"`
	Status      AttemptStatus `json:"status"`
	OrderStatus string        `json:"order_status"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Crypto      *Crypto       `json:"crypto,omitempty"`
}

// MethodOption is one selectable payment method for a given amount.
type MethodOption struct {
	Method    Method `json:"method"`
	MinAmount string `json:"min_amount"`
	MaxAmount string `json:"max_amount"`
}
