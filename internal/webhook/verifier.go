package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ticketpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrSignatureInvalid = errors.New("signature_invalid")
	ErrMalformedPayload = errors.New("malformed_webhook_payload")
	ErrPayloadTooLarge  = errors.New("webhook_payload_too_large")
)

const signaturePrefix = "sha256="

type VerifierParams struct {
	fx.In

	Cfg     config.PaymentConfig
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Verifier checks the HMAC-SHA256 signature the gateway computes over the raw
// request body with the shared secret.
type Verifier struct {
	secret  []byte
	header  string
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewVerifier(p VerifierParams) *Verifier {
	header := strings.TrimSpace(p.Cfg.Webhook.Header)
	if header == "" {
		header = "X-Signature"
	}
	return &Verifier{
		secret:  []byte(p.Cfg.Webhook.Secret),
		header:  header,
		log:     p.Log.Named("webhook.verifier"),
		metrics: p.Metrics,
	}
}

// Header is the request header carrying the signature.
func (v *Verifier) Header() string {
	return v.header
}

// Verify fails closed: a missing secret, a missing header or an undecodable
// signature are all rejected like a mismatch.
func (v *Verifier) Verify(ctx context.Context, body []byte, headers http.Header) error {
	if len(v.secret) == 0 {
		return v.reject(ctx, "secret_not_configured")
	}
	raw := strings.TrimSpace(headers.Get(v.header))
	if raw == "" {
		return v.reject(ctx, "signature_missing")
	}
	if len(raw) > len(signaturePrefix) && strings.EqualFold(raw[:len(signaturePrefix)], signaturePrefix) {
		raw = raw[len(signaturePrefix):]
	}
	provided, err := hex.DecodeString(raw)
	if err != nil {
		return v.reject(ctx, "signature_malformed")
	}
	if !hmac.Equal(provided, Sign(v.secret, body)) {
		return v.reject(ctx, "signature_mismatch")
	}
	return nil
}

func (v *Verifier) reject(ctx context.Context, reason string) error {
	logger.WithContext(ctx, v.log).Warn("webhook signature rejected",
		zap.Bool("security_event", true),
		zap.String("reason", reason),
	)
	if v.metrics != nil {
		v.metrics.RecordSecurityEvent(ctx, reason)
	}
	return ErrSignatureInvalid
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is the header value the gateway sends for body.
func SignHex(secret, body []byte) string {
	return hex.EncodeToString(Sign(secret, body))
}
