package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var (
	ErrDuplicateWebhook       = errors.New("duplicate_webhook")
	ErrOrphanWebhook          = errors.New("orphan_webhook")
	ErrIllegalStateTransition = errors.New("illegal_state_transition")
	ErrConcurrentUpdate       = errors.New("attempt_concurrent_update")
)

// Engine is the single writer of attempt state. Webhooks, callbacks, polls,
// timeouts and visitor actions all converge here.
type Engine interface {
	// Apply runs the report in its own transaction. The returned error is
	// non-nil only for rejected reports and internal faults.
	Apply(ctx context.Context, report Report) (*Result, error)
	// ApplyTx runs inside the caller's transaction. After commit the caller
	// passes the result to Committed.
	ApplyTx(ctx context.Context, tx *gorm.DB, report Report) (*Result, error)
	Committed(result *Result)
}
