package webhook

import (
	"context"
	"net/http"
	"testing"

	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "whsec_test"

func newTestVerifier(secret string) *Verifier {
	cfg := config.DefaultPaymentConfig()
	cfg.Webhook.Secret = secret
	return NewVerifier(VerifierParams{Cfg: cfg, Log: zap.NewNop()})
}

func TestVerify(t *testing.T) {
	body := []byte(`{"event_id":"evt_1","invoice_id":"inv_1","status":"paid","amount":"49.99","currency":"USD"}`)
	valid := SignHex([]byte(testSecret), body)

	tests := []struct {
		name      string
		secret    string
		signature string
		body      []byte
		wantErr   bool
	}{
		{name: "valid", secret: testSecret, signature: valid, body: body},
		{name: "valid with prefix", secret: testSecret, signature: "sha256=" + valid, body: body},
		{name: "uppercase hex", secret: testSecret, signature: "SHA256=" + upper(valid), body: body},
		{name: "missing header", secret: testSecret, signature: "", body: body, wantErr: true},
		{name: "not hex", secret: testSecret, signature: "zz-not-hex", body: body, wantErr: true},
		{name: "wrong secret", secret: testSecret, signature: SignHex([]byte("other"), body), body: body, wantErr: true},
		{name: "tampered body", secret: testSecret, signature: valid, body: append([]byte(" "), body...), wantErr: true},
		{name: "secret not configured", secret: "", signature: valid, body: body, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestVerifier(tc.secret)
			headers := http.Header{}
			if tc.signature != "" {
				headers.Set("X-Signature", tc.signature)
			}
			err := v.Verify(context.Background(), tc.body, headers)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrSignatureInvalid)
				return
			}
			require.NoError(t, err)
		})
	}
}

func upper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func TestParse(t *testing.T) {
	report, err := Parse([]byte(`{"event_id":"evt_1","invoice_id":"inv_1","status":"paid","amount":49.99,"currency":"usd"}`), "sig")
	require.NoError(t, err)
	require.Equal(t, "evt_1", report.EventID)
	require.Equal(t, "inv_1", report.InvoiceID)
	require.Equal(t, "succeeded", string(report.Status))
	require.Equal(t, "49.99", report.Amount.String())
	require.Equal(t, "USD", report.Currency)
	require.True(t, report.HasAmount)

	report, err = Parse([]byte(`{"event_id":"evt_2","invoice_id":"inv_1","status":"Refunded","amount":"49.99","currency":"USD"}`), "")
	require.NoError(t, err)
	require.Equal(t, "refunded", string(report.Status))

	malformed := []string{
		`not json`,
		`{"invoice_id":"inv_1","status":"paid","amount":"1","currency":"USD"}`,
		`{"event_id":"evt","status":"paid","amount":"1","currency":"USD"}`,
		`{"event_id":"evt","invoice_id":"inv_1","amount":"1","currency":"USD"}`,
		`{"event_id":"evt","invoice_id":"inv_1","status":"paid","currency":"USD"}`,
		`{"event_id":"evt","invoice_id":"inv_1","status":"paid","amount":"-1","currency":"USD"}`,
		`{"event_id":"evt","invoice_id":"inv_1","status":"paid","amount":"1","currency":"dollars"}`,
	}
	for _, body := range malformed {
		_, err := Parse([]byte(body), "")
		require.ErrorIs(t, err, ErrMalformedPayload, body)
	}
}
