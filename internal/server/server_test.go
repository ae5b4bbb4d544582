package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/ticketpay/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/ticketpay/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/ticketpay/internal/catalog/service"
	"github.com/smallbiznis/ticketpay/internal/clock"
	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/gateway"
	notificationrepo "github.com/smallbiznis/ticketpay/internal/notification/repository"
	"github.com/smallbiznis/ticketpay/internal/observability"
	orderdomain "github.com/smallbiznis/ticketpay/internal/order/domain"
	orderrepo "github.com/smallbiznis/ticketpay/internal/order/repository"
	"github.com/smallbiznis/ticketpay/internal/payment/adapters"
	"github.com/smallbiznis/ticketpay/internal/payment/adapters/card"
	"github.com/smallbiznis/ticketpay/internal/payment/adapters/crypto"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/ticketpay/internal/payment/repository"
	paymentservice "github.com/smallbiznis/ticketpay/internal/payment/service"
	"github.com/smallbiznis/ticketpay/internal/ratelimit"
	reconciliationrepo "github.com/smallbiznis/ticketpay/internal/reconciliation/repository"
	reconciliationservice "github.com/smallbiznis/ticketpay/internal/reconciliation/service"
	registrationdomain "github.com/smallbiznis/ticketpay/internal/registration/domain"
	registrationrepo "github.com/smallbiznis/ticketpay/internal/registration/repository"
	registrationservice "github.com/smallbiznis/ticketpay/internal/registration/service"
	"github.com/smallbiznis/ticketpay/internal/security"
	"github.com/smallbiznis/ticketpay/internal/webhook"
	"github.com/smallbiznis/ticketpay/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSecret    = "whsec_test"
	testUserAgent = "Mozilla/5.0 (X11; Linux x86_64) Firefox/126.0"
)

type stubGateway struct {
	mu       sync.Mutex
	seq      int
	byKey    map[string]*gateway.Invoice
	invoices map[string]*gateway.Invoice
	creates  int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		byKey:    map[string]*gateway.Invoice{},
		invoices: map[string]*gateway.Invoice{},
	}
}

func (g *stubGateway) CreateInvoice(_ context.Context, req gateway.CreateInvoiceRequest, key string) (*gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if inv, ok := g.byKey[key]; ok {
		out := *inv
		return &out, nil
	}
	g.creates++
	g.seq++
	id := fmt.Sprintf("inv-%d", g.seq)
	inv := &gateway.Invoice{
		ID:         id,
		Status:     "pending",
		Amount:     req.Amount,
		Currency:   req.Currency,
		PaymentURL: "https://pay.example.test/" + id,
		Raw:        json.RawMessage(`{"id":"` + id + `"}`),
	}
	if req.Method == paymentdomain.MethodCrypto {
		inv.Crypto = &gateway.CryptoDetails{Address: "bc1qexampleaddress", Network: "bitcoin", Amount: "0.00081"}
	}
	g.byKey[key] = inv
	g.invoices[id] = inv
	out := *inv
	return &out, nil
}

func (g *stubGateway) GetInvoice(_ context.Context, id string) (*gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inv, ok := g.invoices[id]
	if !ok {
		return nil, gateway.ErrInvoiceNotFound
	}
	out := *inv
	return &out, nil
}

func (g *stubGateway) CancelInvoice(_ context.Context, id string) (*gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inv, ok := g.invoices[id]
	if !ok {
		return nil, gateway.ErrInvoiceNotFound
	}
	inv.Status = "cancelled"
	out := *inv
	return &out, nil
}

func (g *stubGateway) setStatus(id, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoices[id].Status = status
}

func (g *stubGateway) createCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates
}

type testServer struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	gateway *stubGateway
	orders  orderdomain.Repository
	engine  *gin.Engine
}

func newTestServer(t *testing.T, mutate func(*config.PaymentConfig)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.Open(t)
	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.DefaultPaymentConfig()
	cfg.Webhook.Secret = testSecret
	if mutate != nil {
		mutate(&cfg)
	}
	ctx := context.Background()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	catRepo := catalogrepo.Provide()
	now := fc.Now()
	require.NoError(t, catRepo.InsertEvent(ctx, db, &catalogdomain.Event{ID: 10, Name: "Conf", Currency: "USD", IsActive: true, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, catRepo.InsertTicketType(ctx, db, &catalogdomain.TicketType{ID: 11, EventID: 10, Name: "Standard", UnitPrice: 4999, Currency: "USD", IsActive: true, CreatedAt: now, UpdatedAt: now}))
	catalog := catalogservice.New(catalogservice.Params{DB: db, Log: log, Repo: catRepo})

	sessions := registrationrepo.Provide()
	registrations := registrationservice.New(registrationservice.Params{DB: db, Log: log, Clock: fc, Cfg: cfg, Repo: sessions, Catalog: catalog})
	attempts := paymentrepo.Provide()
	orders := orderrepo.Provide()

	engine := reconciliationservice.New(reconciliationservice.Params{
		DB:       db,
		Log:      log,
		Clock:    fc,
		GenID:    node,
		Events:   reconciliationrepo.Provide(),
		Attempts: attempts,
		Orders:   orders,
		Sessions: sessions,
		Outbox:   notificationrepo.Provide(),
	})

	gw := newStubGateway()
	base := adapters.NewBase(adapters.BaseParams{
		DB:       db,
		Log:      log,
		Clock:    fc,
		Cfg:      cfg,
		Gateway:  gw,
		Attempts: attempts,
		Engine:   engine,
	})
	gate := security.NewGate(security.Params{Cfg: cfg, Log: log})

	selector := paymentservice.New(paymentservice.Params{
		DB:            db,
		Log:           log,
		Clock:         fc,
		GenID:         node,
		Cfg:           cfg,
		Repo:          attempts,
		Orders:        orders,
		Sessions:      sessions,
		Registrations: registrations,
		Catalog:       catalog,
		Gate:          gate,
		Engine:        engine,
		Adapters: adapters.NewRegistry(
			card.New(base),
			crypto.New(crypto.Params{Base: base, Locker: ratelimit.NewMemoryLocker(fc)}),
		),
	})

	receiver := webhook.NewReceiver(webhook.ReceiverParams{
		Cfg:      cfg,
		Log:      log,
		Verifier: webhook.NewVerifier(webhook.VerifierParams{Cfg: cfg, Log: log}),
		Engine:   engine,
	})

	srv := NewServer(ServerParams{
		Gin:           NewEngine(observability.Config{}, nil),
		Cfg:           config.Config{Environment: "test"},
		PaymentCfg:    cfg,
		DB:            db,
		Registrations: registrations,
		Payments:      selector,
		Receiver:      receiver,
		Gate:          gate,
		Limiter: ratelimit.NewLimiter(ratelimit.Params{
			Store: ratelimit.NewMemoryStore(fc),
			Cfg:   cfg,
			Clock: fc,
			Log:   log,
		}),
	})
	srv.RegisterRoutes()

	return &testServer{db: db, clock: fc, gateway: gw, orders: orders, engine: srv.Engine()}
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("User-Agent", testUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/registrations", []byte(`{
		"event_id": "10",
		"attendee": {"name": "Ada Lovelace", "email": "ada@example.com"},
		"items": [{"ticket_type_id": "11", "quantity": 1}]
	}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Token          string `json:"token"`
		Total          int64  `json:"total"`
		TotalFormatted string `json:"total_formatted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.Equal(t, int64(4999), resp.Total)
	require.Equal(t, "49.99", resp.TotalFormatted)
	return resp.Token
}

func (ts *testServer) selectCard(t *testing.T, token string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/registrations/"+token+"/payments", []byte(`{"method":"card"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp paymentdomain.Initiation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Attempt)
	return resp.Attempt.GatewayInvoiceID
}

func (ts *testServer) postWebhook(t *testing.T, payload map[string]any, signature string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	if signature == "" {
		signature = webhook.SignHex([]byte(testSecret), body)
	}
	return ts.do(t, http.MethodPost, "/v1/webhooks/gateway", body, map[string]string{"X-Signature": signature})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestCardPaymentRateLimitedBeforeGateway(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 5; i++ {
		ts.selectCard(t, ts.createSession(t))
	}
	require.Equal(t, 5, ts.gateway.createCount())

	token := ts.createSession(t)
	rec := ts.do(t, http.MethodPost, "/v1/registrations/"+token+"/payments", []byte(`{"method":"card"}`), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, config.CategoryCardPayment, rec.Header().Get("X-Rate-Limited-Reason"))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "rate_limited", decodeError(t, rec).Type)
	require.Equal(t, 5, ts.gateway.createCount())

	// Crypto has its own window.
	rec = ts.do(t, http.MethodPost, "/v1/registrations/"+token+"/payments", []byte(`{"method":"crypto"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, 6, ts.gateway.createCount())

	ts.clock.Advance(11 * time.Minute)
	ts.selectCard(t, ts.createSession(t))
}

func TestSuspiciousUserAgentRejected(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/registrations", []byte(`{}`), map[string]string{"User-Agent": "python-requests/2.31"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/payments/inv-1/status", nil, map[string]string{"User-Agent": "curl/8.0"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownPaymentMethodRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/v1/registrations/"+token+"/payments", []byte(`{"method":"paypal"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_payment_method", decodeError(t, rec).Errors[0].Code)
	require.Equal(t, 0, ts.gateway.createCount())
}

func TestWebhookSettlesOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.createSession(t)
	invoiceID := ts.selectCard(t, token)

	payload := map[string]any{
		"event_id":   "evt-1",
		"invoice_id": invoiceID,
		"status":     "paid",
		"amount":     "49.99",
		"currency":   "USD",
	}

	rec := ts.postWebhook(t, payload, "deadbeef")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.postWebhook(t, payload, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"outcome":"applied"`)

	rec = ts.postWebhook(t, payload, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"outcome":"duplicate"`)

	rec = ts.do(t, http.MethodGet, "/v1/payments/"+invoiceID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view paymentdomain.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, paymentdomain.StatusSucceeded, view.Status)
	require.Equal(t, string(orderdomain.StatusPaid), view.OrderStatus)

	// The session is consumed once the order is paid.
	rec = ts.do(t, http.MethodGet, "/v1/registrations/"+token, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookOrphanAndMismatch(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.createSession(t)
	invoiceID := ts.selectCard(t, token)

	rec := ts.postWebhook(t, map[string]any{
		"event_id":   "evt-orphan",
		"invoice_id": "inv-unknown",
		"status":     "paid",
		"amount":     "49.99",
		"currency":   "USD",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"outcome":"orphan"`)

	rec = ts.postWebhook(t, map[string]any{
		"event_id":   "evt-short",
		"invoice_id": invoiceID,
		"status":     "paid",
		"amount":     "1.00",
		"currency":   "USD",
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_amount_or_currency", decodeError(t, rec).Errors[0].Code)

	rec = ts.postWebhook(t, map[string]any{"event_id": "evt-bad", "status": "paid"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	order, err := ts.orders.FindBySessionToken(context.Background(), ts.db, token)
	require.NoError(t, err)
	require.Equal(t, orderdomain.StatusAwaitingPayment, order.Status)
}

func TestWebhookBodyCap(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.PaymentConfig) {
		cfg.Webhook.MaxBodyBytes = 64
	})

	rec := ts.postWebhook(t, map[string]any{
		"event_id":   "evt-large",
		"invoice_id": strings.Repeat("x", 128),
		"status":     "paid",
		"amount":     "1.00",
		"currency":   "USD",
	}, "")
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestExpiredSessionIsGone(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/v1/registrations/"+token+"/extend", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ts.clock.Advance(31 * time.Minute)
	rec = ts.do(t, http.MethodGet, "/v1/registrations/"+token, nil, nil)
	require.Equal(t, http.StatusGone, rec.Code)
	require.Equal(t, "session_expired", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodGet, "/v1/registrations/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentMethodsForSession(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.createSession(t)

	rec := ts.do(t, http.MethodGet, "/v1/registrations/"+token+"/payment-methods", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Amount   string                       `json:"amount"`
		Currency string                       `json:"currency"`
		Methods  []paymentdomain.MethodOption `json:"methods"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "49.99", resp.Amount)
	require.Equal(t, "USD", resp.Currency)
	require.Len(t, resp.Methods, 2)
}

func TestCallbackRedirectsAfterRecheck(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.PaymentConfig) {
		cfg.Gateway.SuccessURL = "https://tickets.example.test/thanks"
		cfg.Gateway.PendingURL = "https://tickets.example.test/pending"
	})
	token := ts.createSession(t)
	invoiceID := ts.selectCard(t, token)

	rec := ts.do(t, http.MethodGet, "/v1/payments/callback?invoice_id="+invoiceID+"&status=paid", nil, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://tickets.example.test/pending"))

	ts.gateway.setStatus(invoiceID, "paid")
	rec = ts.do(t, http.MethodGet, "/v1/payments/callback?invoice_id="+invoiceID, nil, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://tickets.example.test/thanks"))

	order, err := ts.orders.FindBySessionToken(context.Background(), ts.db, token)
	require.NoError(t, err)
	require.Equal(t, orderdomain.StatusPaid, order.Status)
}

func TestCancelRegistration(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.createSession(t)
	invoiceID := ts.selectCard(t, token)

	rec := ts.do(t, http.MethodDelete, "/v1/registrations/"+token, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/v1/payments/"+invoiceID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view paymentdomain.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, paymentdomain.StatusCancelled, view.Status)
	require.Equal(t, string(orderdomain.StatusCancelled), view.OrderStatus)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"expired", registrationdomain.ErrSessionExpired, http.StatusGone},
		{"not found", registrationdomain.ErrSessionNotFound, http.StatusNotFound},
		{"switch", paymentdomain.ErrInvalidMethodSwitch, http.StatusConflict},
		{"in progress", paymentdomain.ErrPaymentInProgress, http.StatusConflict},
		{"unavailable method", paymentdomain.ErrMethodUnavailable, http.StatusUnprocessableEntity},
		{"gateway down", fmt.Errorf("%w: timeout", paymentdomain.ErrGatewayUnavailable), http.StatusServiceUnavailable},
		{"gateway rejected", &gateway.Error{Op: "create_invoice", StatusCode: 400, Err: gateway.ErrRejected}, http.StatusBadGateway},
		{"rate limited", &ratelimit.RateLimitedError{Category: "webhook", RetryAfter: time.Second}, http.StatusTooManyRequests},
		{"signature", webhook.ErrSignatureInvalid, http.StatusUnauthorized},
		{"user agent", security.ErrSuspiciousUserAgent, http.StatusForbidden},
		{"amount", fmt.Errorf("%w: %w", paymentdomain.ErrInvalidAmountOrCurrency, security.ErrAmountOutOfBounds), http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := mapError(tc.err)
			require.Equal(t, tc.status, status)
		})
	}
}
