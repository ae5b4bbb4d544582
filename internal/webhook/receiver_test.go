package webhook

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/smallbiznis/ticketpay/internal/config"
	reconciliationdomain "github.com/smallbiznis/ticketpay/internal/reconciliation/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingEngine struct {
	reports []reconciliationdomain.Report
}

func (e *recordingEngine) Apply(_ context.Context, report reconciliationdomain.Report) (*reconciliationdomain.Result, error) {
	e.reports = append(e.reports, report)
	return &reconciliationdomain.Result{Outcome: reconciliationdomain.OutcomeApplied}, nil
}

func (e *recordingEngine) ApplyTx(ctx context.Context, _ *gorm.DB, report reconciliationdomain.Report) (*reconciliationdomain.Result, error) {
	return e.Apply(ctx, report)
}

func (e *recordingEngine) Committed(*reconciliationdomain.Result) {}

func newTestReceiver(engine reconciliationdomain.Engine) *Receiver {
	cfg := config.DefaultPaymentConfig()
	cfg.Webhook.Secret = testSecret
	cfg.Webhook.MaxBodyBytes = 256
	log := zap.NewNop()
	return NewReceiver(ReceiverParams{
		Cfg:      cfg,
		Log:      log,
		Verifier: NewVerifier(VerifierParams{Cfg: cfg, Log: log}),
		Engine:   engine,
	})
}

func signedHeaders(body []byte) http.Header {
	headers := http.Header{}
	headers.Set("X-Signature", SignHex([]byte(testSecret), body))
	return headers
}

func TestHandleForwardsVerifiedReport(t *testing.T) {
	engine := &recordingEngine{}
	r := newTestReceiver(engine)
	body := []byte(`{"event_id":"evt_1","invoice_id":"inv_1","status":"paid","amount":"49.99","currency":"USD"}`)

	res, err := r.Handle(context.Background(), body, signedHeaders(body))
	require.NoError(t, err)
	require.Equal(t, reconciliationdomain.OutcomeApplied, res.Outcome)
	require.Len(t, engine.reports, 1)
	require.Equal(t, reconciliationdomain.SourceWebhook, engine.reports[0].Source)
	require.Equal(t, string(body), string(engine.reports[0].Payload))
}

func TestHandleFailsClosed(t *testing.T) {
	engine := &recordingEngine{}
	r := newTestReceiver(engine)
	body := []byte(`{"event_id":"evt_1","invoice_id":"inv_1","status":"paid","amount":"49.99","currency":"USD"}`)

	_, err := r.Handle(context.Background(), body, http.Header{})
	require.ErrorIs(t, err, ErrSignatureInvalid)

	bad := []byte(`{"event_id":"","invoice_id":"inv_1"}`)
	_, err = r.Handle(context.Background(), bad, signedHeaders(bad))
	require.ErrorIs(t, err, ErrMalformedPayload)

	large := []byte(`{"pad":"` + strings.Repeat("x", 300) + `"}`)
	_, err = r.Handle(context.Background(), large, signedHeaders(large))
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	require.Empty(t, engine.reports)
}
