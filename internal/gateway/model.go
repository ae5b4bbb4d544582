package gateway

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
)

type CreateInvoiceRequest struct {
	OrderID       snowflake.ID
	AttemptID     snowflake.ID
	Method        paymentdomain.Method
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CustomerName  string
	CustomerEmail string
	NotifyURL     string
	ReturnURL     string
	ExpiresAt     time.Time
}

type createInvoiceBody struct {
	Reference   string          `json:"reference"`
	Method      string          `json:"method"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	NotifyURL   string          `json:"notify_url,omitempty"`
	ReturnURL   string          `json:"return_url,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	Customer    customerBody    `json:"customer"`
}

type customerBody struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Invoice is the gateway view of an invoice. Raw keeps the response body for audit.
type Invoice struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	PaymentURL string          `json:"payment_url"`
	Crypto     *CryptoDetails  `json:"crypto,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

type CryptoDetails struct {
	Address       string `json:"address"`
	Network       string `json:"network"`
	Amount        string `json:"amount"`
	Confirmations int    `json:"confirmations"`
}

// AttemptStatus maps the gateway vocabulary onto attempt states.
func (i Invoice) AttemptStatus() paymentdomain.AttemptStatus {
	return MapStatus(i.Status)
}

// MapStatus returns an empty status for values the gateway may add later.
func MapStatus(raw string) paymentdomain.AttemptStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "new", "created", "open":
		return paymentdomain.StatusCreated
	case "pending", "waiting", "processing", "unpaid":
		return paymentdomain.StatusPending
	case "confirming", "partially_confirmed", "detected":
		return paymentdomain.StatusConfirming
	case "paid", "succeeded", "success", "completed", "confirmed":
		return paymentdomain.StatusSucceeded
	case "failed", "declined", "rejected", "error":
		return paymentdomain.StatusFailed
	case "expired", "timeout":
		return paymentdomain.StatusExpired
	case "cancelled", "canceled", "voided":
		return paymentdomain.StatusCancelled
	default:
		return ""
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
