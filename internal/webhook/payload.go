package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ticketpay/internal/gateway"
	"github.com/smallbiznis/ticketpay/internal/money"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
	reconciliationdomain "github.com/smallbiznis/ticketpay/internal/reconciliation/domain"
	"gorm.io/datatypes"
)

type payload struct {
	EventID    string           `json:"event_id"`
	InvoiceID  string           `json:"invoice_id"`
	Status     string           `json:"status"`
	Amount     *decimal.Decimal `json:"amount"`
	Currency   string           `json:"currency"`
	OccurredAt *time.Time       `json:"occurred_at,omitempty"`
}

// Parse turns a verified body into a reconciliation report. Statuses the
// gateway may add later are passed through as-is and end up ignored as stale.
func Parse(body []byte, signature string) (reconciliationdomain.Report, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return reconciliationdomain.Report{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	p.EventID = strings.TrimSpace(p.EventID)
	p.InvoiceID = strings.TrimSpace(p.InvoiceID)
	p.Status = strings.TrimSpace(p.Status)

	switch {
	case p.EventID == "":
		return reconciliationdomain.Report{}, fmt.Errorf("%w: event_id is required", ErrMalformedPayload)
	case p.InvoiceID == "":
		return reconciliationdomain.Report{}, fmt.Errorf("%w: invoice_id is required", ErrMalformedPayload)
	case p.Status == "":
		return reconciliationdomain.Report{}, fmt.Errorf("%w: status is required", ErrMalformedPayload)
	case p.Amount == nil || p.Amount.IsNegative():
		return reconciliationdomain.Report{}, fmt.Errorf("%w: amount is required", ErrMalformedPayload)
	case !money.ValidCurrency(p.Currency):
		return reconciliationdomain.Report{}, fmt.Errorf("%w: currency %q", ErrMalformedPayload, p.Currency)
	}

	status := gateway.MapStatus(p.Status)
	if status == "" {
		status = paymentdomain.AttemptStatus(strings.ToLower(p.Status))
	}
	report := reconciliationdomain.Report{
		Source:    reconciliationdomain.SourceWebhook,
		EventID:   p.EventID,
		InvoiceID: p.InvoiceID,
		Status:    status,
		Amount:    *p.Amount,
		Currency:  money.NormalizeCurrency(p.Currency),
		HasAmount: true,
		Signature: signature,
		Payload:   body,
		RawState:  datatypes.JSON(body),
	}
	if p.OccurredAt != nil {
		report.OccurredAt = p.OccurredAt.UTC()
	}
	return report, nil
}
