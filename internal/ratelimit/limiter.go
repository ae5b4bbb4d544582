package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/ticketpay/internal/clock"
	"github.com/smallbiznis/ticketpay/internal/config"
	obsmetrics "github.com/smallbiznis/ticketpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyRateLimit = "ticketpay:ratelimit:%s:%s"

var (
	ErrRateLimited     = errors.New("rate_limited")
	ErrUnknownCategory = errors.New("rate_limit_category_unknown")
)

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// RateLimitedError is returned when the window for (identity, category) is
// exhausted. It matches ErrRateLimited under errors.Is.
type RateLimitedError struct {
	Category   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s, retry after %s", e.Category, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds the hint up so clients never retry early.
func (e *RateLimitedError) RetryAfterSeconds() int {
	seconds := int((e.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

type Params struct {
	fx.In

	Store   Store
	Cfg     config.PaymentConfig
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Limiter applies the configured fixed-window rule of a category to a client
// identity.
type Limiter struct {
	store   Store
	rules   map[string]config.RateLimitRule
	clock   clock.Clock
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewLimiter(p Params) *Limiter {
	rules := make(map[string]config.RateLimitRule, len(p.Cfg.RateLimits))
	for category, rule := range p.Cfg.RateLimits {
		rules[category] = rule
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		store:   p.Store,
		rules:   rules,
		clock:   clk,
		log:     log.Named("ratelimit"),
		metrics: p.Metrics,
	}
}

// Allow counts one hit. A denied hit returns both the result and a
// *RateLimitedError; store failures are returned as is and callers fail closed.
func (l *Limiter) Allow(ctx context.Context, category, identity string) (*RateLimitResult, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	rule, ok := l.rules[category]
	if !ok {
		return &RateLimitResult{Allowed: false}, ErrUnknownCategory
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = "anonymous"
	}

	count, ttl, err := l.store.Hit(ctx, fmt.Sprintf(keyRateLimit, category, identity), rule.Decay)
	if err != nil {
		return &RateLimitResult{Allowed: false}, fmt.Errorf("rate limit %s: %w", category, err)
	}
	if ttl <= 0 || ttl > rule.Decay {
		ttl = rule.Decay
	}

	remaining := rule.MaxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}
	result := &RateLimitResult{
		Allowed:   count <= int64(rule.MaxAttempts),
		Limit:     rule.MaxAttempts,
		Remaining: remaining,
		ResetTime: l.clock.Now().Add(ttl),
	}
	if result.Allowed {
		if l.metrics != nil {
			l.metrics.RecordRateLimitAllowed(ctx, category)
		}
		return result, nil
	}

	result.RetryAfter = ttl
	if l.metrics != nil {
		l.metrics.RecordRateLimitDenied(ctx, category, "window_exhausted")
	}
	l.log.Warn("rate limit exceeded",
		zap.Bool("security_event", true),
		zap.String("reason", "rate_limited"),
		zap.String("category", category),
		zap.Int("limit", rule.MaxAttempts),
		zap.Duration("retry_after", ttl),
	)
	return result, &RateLimitedError{Category: category, RetryAfter: ttl}
}
