package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey    ctxKey = "request_id"
	sessionTokenKey ctxKey = "session_token"
	clientIPKey     ctxKey = "client_ip"
	attemptIDKey    ctxKey = "attempt_id"
	invoiceIDKey    ctxKey = "invoice_id"
)

// WithRequestID stores the request correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

// RequestIDFromContext returns the request id or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithSessionToken stores the registration session token for log correlation.
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionTokenKey, strings.TrimSpace(token))
}

// SessionTokenFromContext returns the session token or an empty string.
func SessionTokenFromContext(ctx context.Context) string {
	return stringValue(ctx, sessionTokenKey)
}

// WithClientIP stores the resolved client address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, strings.TrimSpace(ip))
}

// ClientIPFromContext returns the client address or an empty string.
func ClientIPFromContext(ctx context.Context) string {
	return stringValue(ctx, clientIPKey)
}

// WithAttempt scopes the context to one payment attempt. Zero or empty values
// leave the existing scope untouched.
func WithAttempt(ctx context.Context, attemptID int64, invoiceID string) context.Context {
	if attemptID != 0 {
		ctx = context.WithValue(ctx, attemptIDKey, attemptID)
	}
	if invoiceID = strings.TrimSpace(invoiceID); invoiceID != "" {
		ctx = context.WithValue(ctx, invoiceIDKey, invoiceID)
	}
	return ctx
}

// AttemptFromContext returns the attempt scope, zero values when unset.
func AttemptFromContext(ctx context.Context) (int64, string) {
	if ctx == nil {
		return 0, ""
	}
	id, _ := ctx.Value(attemptIDKey).(int64)
	return id, stringValue(ctx, invoiceIDKey)
}

// RedactToken keeps only a short prefix of a session token.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "***"
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
