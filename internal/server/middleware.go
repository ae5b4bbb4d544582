package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
	"github.com/smallbiznis/ticketpay/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	contextRateLimitCategory = "rate_limit_category"
	contextPaymentMethod     = "payment_method"

	maxPaymentBodyBytes = 4 << 10
)

type paymentMethodRequest struct {
	Method string `json:"method"`
}

// UserAgentGate rejects automation clients before any other work.
func (s *Server) UserAgentGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.gate.CheckUserAgent(c.Request.Context(), c.Request.UserAgent()); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// RateLimit counts the request against a fixed category keyed by client IP.
func (s *Server) RateLimit(category string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.allow(c, category) {
			return
		}
		c.Next()
	}
}

// RateLimitByMethod picks the category from the requested payment method so
// card and crypto traffic are limited independently.
func (s *Server) RateLimitByMethod() gin.HandlerFunc {
	return func(c *gin.Context) {
		method, err := readPaymentMethod(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		category, ok := methodCategory(method)
		if !ok {
			AbortWithError(c, paymentdomain.ErrInvalidMethod)
			return
		}
		c.Set(contextPaymentMethod, method)
		if !s.allow(c, category) {
			return
		}
		c.Next()
	}
}

func (s *Server) allow(c *gin.Context, category string) bool {
	ctx := c.Request.Context()
	c.Set(contextRateLimitCategory, category)

	result, err := s.limiter.Allow(ctx, category, c.ClientIP())
	if result != nil && result.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	}
	if err == nil {
		return true
	}
	if errors.Is(err, ratelimit.ErrRateLimited) {
		AbortWithError(c, err)
		return false
	}
	logger.FromContext(ctx).Warn("rate limit check failed",
		zap.String("category", category),
		zap.Error(err),
	)
	AbortWithError(c, fmt.Errorf("%w: %w", ErrServiceUnavailable, err))
	return false
}

func methodCategory(method paymentdomain.Method) (string, bool) {
	switch method {
	case paymentdomain.MethodCard:
		return config.CategoryCardPayment, true
	case paymentdomain.MethodCrypto:
		return config.CategoryCryptoPayment, true
	default:
		return "", false
	}
}

// readPaymentMethod peeks the method out of the JSON body and restores the
// body for the handler.
func readPaymentMethod(c *gin.Context) (paymentdomain.Method, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPaymentBodyBytes+1))
	if err != nil {
		return "", invalidRequestError()
	}
	if len(body) > maxPaymentBodyBytes {
		return "", invalidRequestError()
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	var payload paymentMethodRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", invalidRequestError()
	}
	method := paymentdomain.Method(strings.ToLower(strings.TrimSpace(payload.Method)))
	if !method.Valid() {
		return "", paymentdomain.ErrInvalidMethod
	}
	return method, nil
}

func paymentMethodFromContext(c *gin.Context) paymentdomain.Method {
	if value, ok := c.Get(contextPaymentMethod); ok {
		if method, ok := value.(paymentdomain.Method); ok {
			return method
		}
	}
	return ""
}
