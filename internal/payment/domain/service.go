package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	orderdomain "github.com/smallbiznis/ticketpay/internal/order/domain"
)

// MethodAdapter drives one payment method against the gateway. Terminal
// states are never written here; every gateway read is handed to the
// reconciliation engine.
type MethodAdapter interface {
	Method() Method
	// Initiate creates the gateway invoice at most once per attempt.
	Initiate(ctx context.Context, attempt *Attempt, order *orderdomain.Order) (*Initiation, error)
	// Refresh reads the gateway status once and reconciles it.
	Refresh(ctx context.Context, attempt *Attempt) (*Attempt, error)
	// Cancel voids the gateway invoice best effort.
	Cancel(ctx context.Context, attempt *Attempt)
}

// Selector is the visitor-facing payment orchestration.
type Selector interface {
	ListAvailableMethods(ctx context.Context, eventID snowflake.ID, amount decimal.Decimal, currency string) ([]MethodOption, error)
	Select(ctx context.Context, token string, method Method) (*Initiation, error)
	Switch(ctx context.Context, token string, method Method) (*Initiation, error)
	Cancel(ctx context.Context, token string) error
	Confirm(ctx context.Context, invoiceID string) (*StatusView, error)
	Status(ctx context.Context, invoiceID string) (*StatusView, error)
	ExpireOverdue(ctx context.Context, limit int) (int, error)
	PollPending(ctx context.Context, limit int) (int, error)
}

var (
	ErrInvalidMethod           = errors.New("invalid_payment_method")
	ErrMethodUnavailable       = errors.New("payment_method_unavailable")
	ErrInvalidAmountOrCurrency = errors.New("invalid_amount_or_currency")
	ErrInvalidMethodSwitch     = errors.New("invalid_method_switch")
	ErrPaymentInProgress       = errors.New("payment_in_progress")
	ErrOrderFinalized          = errors.New("order_finalized")
	ErrAttemptNotFound         = errors.New("payment_attempt_not_found")
	ErrGatewayUnavailable      = errors.New("gateway_unavailable")
)
