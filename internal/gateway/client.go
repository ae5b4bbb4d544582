package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/ticketpay/internal/config"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const maxResponseBytes = 1 << 20

// Client talks to the payment gateway REST API. Access tokens are obtained
// with the client credentials grant and cached per environment until expiry.
type Client struct {
	cfg  config.GatewayConfig
	http *http.Client
	log  *zap.Logger

	mu     sync.Mutex
	tokens map[string]oauth2.TokenSource
}

func NewClient(cfg config.PaymentConfig, log *zap.Logger) *Client {
	timeout := cfg.Gateway.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:    cfg.Gateway,
		http:   &http.Client{Timeout: timeout},
		log:    log.Named("gateway.client"),
		tokens: make(map[string]oauth2.TokenSource),
	}
}

// GetAccessToken returns a valid token for env, reusing the cached one while
// it has not expired.
func (c *Client) GetAccessToken(ctx context.Context, env string) (*oauth2.Token, error) {
	env = strings.ToLower(strings.TrimSpace(env))
	source, err := c.tokenSource(env)
	if err != nil {
		return nil, err
	}
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode < http.StatusInternalServerError {
			return nil, &Error{Op: "token", StatusCode: retrieveErr.Response.StatusCode, Message: "token request rejected", Err: ErrRejected}
		}
		return nil, &Error{Op: "token", Err: fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)}
	}
	return token, nil
}

func (c *Client) tokenSource(env string) (oauth2.TokenSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if source, ok := c.tokens[env]; ok {
		return source, nil
	}
	creds, ok := c.cfg.Environments[env]
	if !ok || strings.TrimSpace(creds.TokenURL) == "" || strings.TrimSpace(creds.ClientID) == "" {
		return nil, ErrNotConfigured
	}
	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// The source outlives any single request, so it is bound to a background
	// context carrying our HTTP client.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
	source := cc.TokenSource(tokenCtx)
	c.tokens[env] = source
	return source, nil
}

// CreateInvoice registers an invoice for the attempt. The idempotency key lets
// the gateway collapse retried submissions into a single invoice.
func (c *Client) CreateInvoice(ctx context.Context, req CreateInvoiceRequest, idempotencyKey string) (*Invoice, error) {
	body := createInvoiceBody{
		Reference:   req.AttemptID.String(),
		Method:      string(req.Method),
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		Description: req.Description,
		NotifyURL:   req.NotifyURL,
		ReturnURL:   req.ReturnURL,
		Customer: customerBody{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
		},
	}
	if !req.ExpiresAt.IsZero() {
		expires := req.ExpiresAt.UTC()
		body.ExpiresAt = &expires
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return c.doRequest(ctx, "create_invoice", http.MethodPost, "/v1/invoices", payload, idempotencyKey)
}

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, ErrInvoiceNotFound
	}
	return c.doRequest(ctx, "get_invoice", http.MethodGet, "/v1/invoices/"+url.PathEscape(invoiceID), nil, "")
}

func (c *Client) CancelInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, ErrInvoiceNotFound
	}
	return c.doRequest(ctx, "cancel_invoice", http.MethodPost, "/v1/invoices/"+url.PathEscape(invoiceID)+"/cancel", nil, "")
}

func (c *Client) doRequest(
	ctx context.Context,
	op string,
	method string,
	path string,
	payload []byte,
	idempotencyKey string,
) (*Invoice, error) {
	env := c.cfg.Environment
	creds, ok := c.cfg.Environments[env]
	if !ok || strings.TrimSpace(creds.BaseURL) == "" {
		return nil, ErrNotConfigured
	}
	endpoint := strings.TrimRight(creds.BaseURL, "/") + path

	maxRetries := c.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.NewExponentialBackOff()
	if c.cfg.RetryInitialInterval > 0 {
		policy.InitialInterval = c.cfg.RetryInitialInterval
	}

	operation := func() (*Invoice, error) {
		invoice, err := c.send(ctx, op, env, method, endpoint, payload, idempotencyKey)
		if err == nil {
			return invoice, nil
		}
		var gwErr *Error
		if errors.As(err, &gwErr) && gwErr.retryable() {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	invoice, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(maxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("gateway request failed, retrying",
				zap.String("op", op),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (c *Client) send(
	ctx context.Context,
	op string,
	env string,
	method string,
	endpoint string,
	payload []byte,
	idempotencyKey string,
) (*Invoice, error) {
	token, err := c.GetAccessToken(ctx, env)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, backoff.Permanent(ctxErr)
		}
		return nil, &Error{Op: op, Err: fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, classifyStatus(op, resp.StatusCode, raw)
	}

	var invoice Invoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: "undecodable response", Err: ErrInvalidResponse}
	}
	if strings.TrimSpace(invoice.ID) == "" {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: "missing invoice id", Err: ErrInvalidResponse}
	}
	invoice.Raw = json.RawMessage(raw)
	return &invoice, nil
}

func classifyStatus(op string, status int, raw []byte) error {
	message := http.StatusText(status)
	var parsed errorBody
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if msg := strings.TrimSpace(parsed.Error.Message); msg != "" {
			message = msg
		}
	}

	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return &Error{Op: op, StatusCode: status, Message: message, Err: paymentdomain.ErrGatewayUnavailable}
	case status == http.StatusNotFound:
		return &Error{Op: op, StatusCode: status, Message: message, Err: ErrInvoiceNotFound}
	default:
		return &Error{Op: op, StatusCode: status, Message: message, Err: ErrRejected}
	}
}
