package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(t.Context())
	})
	return recorder
}

func spanAttributes(t *testing.T, recorder *tracetest.SpanRecorder) map[attribute.Key]string {
	t.Helper()
	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	out := map[attribute.Key]string{}
	for _, attr := range spans[0].Attributes() {
		out[attr.Key] = attr.Value.Emit()
	}
	return out
}

func TestGinMiddlewareTagsSessionAndInvoice(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("session routes record a redacted token", func(t *testing.T) {
		recorder := recordSpans(t)
		r := gin.New()
		r.Use(GinMiddleware())
		r.POST("/v1/registrations/:token/payments", func(c *gin.Context) {
			c.Set("rate_limit_category", "payment_selection")
			c.Status(http.StatusCreated)
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/registrations/abcdefgh12345678/payments", nil))

		attrs := spanAttributes(t, recorder)
		if got := attrs["registration.session"]; got != "abcdefgh***" {
			t.Fatalf("expected redacted session, got %q", got)
		}
		if got := attrs["rate_limit.category"]; got != "payment_selection" {
			t.Fatalf("expected rate limit category, got %q", got)
		}
		if got := attrs["http.route"]; got != "/v1/registrations/:token/payments" {
			t.Fatalf("unexpected route %q", got)
		}
		for key, value := range attrs {
			if value == "abcdefgh12345678" {
				t.Fatalf("raw session token leaked in %s", key)
			}
		}
	})

	t.Run("invoice from path", func(t *testing.T) {
		recorder := recordSpans(t)
		r := gin.New()
		r.Use(GinMiddleware())
		r.GET("/v1/payments/:invoice_id/status", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/payments/inv-7/status", nil))

		attrs := spanAttributes(t, recorder)
		if got := attrs["payment.invoice_id"]; got != "inv-7" {
			t.Fatalf("expected invoice id, got %q", got)
		}
		if _, ok := attrs["registration.session"]; ok {
			t.Fatalf("unexpected session attribute")
		}
	})

	t.Run("invoice from callback query", func(t *testing.T) {
		recorder := recordSpans(t)
		r := gin.New()
		r.Use(GinMiddleware())
		r.GET("/v1/payments/callback", func(c *gin.Context) { c.Status(http.StatusSeeOther) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/payments/callback?invoice_id=inv-9", nil))

		if got := spanAttributes(t, recorder)["payment.invoice_id"]; got != "inv-9" {
			t.Fatalf("expected invoice id from query, got %q", got)
		}
	})
}
