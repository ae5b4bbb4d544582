package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Rate limit categories recognised by the payment routes.
const (
	CategoryRegistration        = "registration"
	CategoryCardPayment         = "card_payment"
	CategoryCryptoPayment       = "crypto_payment"
	CategoryPaymentConfirmation = "payment_confirmation"
	CategoryPaymentStatus       = "payment_status"
	CategoryWebhook             = "webhook"
	CategoryCallback            = "callback"
)

const (
	MethodCard   = "card"
	MethodCrypto = "crypto"
)

// RateLimitRule allows MaxAttempts hits per Decay window.
type RateLimitRule struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	Decay       time.Duration `mapstructure:"decay"`
}

type MethodConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	Currencies []string        `mapstructure:"currencies"`
	MinAmount  decimal.Decimal `mapstructure:"minAmount"`
	MaxAmount  decimal.Decimal `mapstructure:"maxAmount"`
}

type GatewayEnvironment struct {
	BaseURL      string `mapstructure:"baseURL"`
	TokenURL     string `mapstructure:"tokenURL"`
	ClientID     string `mapstructure:"clientID"`
	ClientSecret string `mapstructure:"clientSecret"`
}

type GatewayConfig struct {
	Environment          string                        `mapstructure:"environment"`
	Environments         map[string]GatewayEnvironment `mapstructure:"environments"`
	Timeout              time.Duration                 `mapstructure:"timeout"`
	MaxRetries           int                           `mapstructure:"maxRetries"`
	RetryInitialInterval time.Duration                 `mapstructure:"retryInitialInterval"`
	NotifyURL            string                        `mapstructure:"notifyURL"`
	CallbackURL          string                        `mapstructure:"callbackURL"`
	SuccessURL           string                        `mapstructure:"successURL"`
	FailureURL           string                        `mapstructure:"failureURL"`
	PendingURL           string                        `mapstructure:"pendingURL"`
}

// Active returns the credentials of the configured environment.
func (g GatewayConfig) Active() (GatewayEnvironment, bool) {
	env, ok := g.Environments[strings.ToLower(strings.TrimSpace(g.Environment))]
	return env, ok
}

type WebhookConfig struct {
	Algorithm    string `mapstructure:"algorithm"`
	Secret       string `mapstructure:"secret"`
	Header       string `mapstructure:"header"`
	MaxBodyBytes int64  `mapstructure:"maxBodyBytes"`
}

type PollingConfig struct {
	MinInterval time.Duration `mapstructure:"minInterval"`
	LockTTL     time.Duration `mapstructure:"lockTTL"`
}

// PaymentConfig enumerates every payment option. It is loaded once at
// startup and passed by value; nothing mutates it afterwards.
type PaymentConfig struct {
	RegistrationTimeout  time.Duration            `mapstructure:"registrationTimeout"`
	PaymentTimeout       time.Duration            `mapstructure:"paymentTimeout"`
	Currencies           []string                 `mapstructure:"currencies"`
	MinAmount            decimal.Decimal          `mapstructure:"minAmount"`
	MaxAmount            decimal.Decimal          `mapstructure:"maxAmount"`
	SuspiciousUserAgents []string                 `mapstructure:"suspiciousUserAgents"`
	Methods              map[string]MethodConfig  `mapstructure:"methods"`
	RateLimits           map[string]RateLimitRule `mapstructure:"rateLimits"`
	Gateway              GatewayConfig            `mapstructure:"gateway"`
	Webhook              WebhookConfig            `mapstructure:"webhook"`
	Polling              PollingConfig            `mapstructure:"polling"`
}

// AllowsCurrency reports whether the currency is on the global whitelist.
func (c PaymentConfig) AllowsCurrency(currency string) bool {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	for _, allowed := range c.Currencies {
		if allowed == currency {
			return true
		}
	}
	return false
}

// MethodNames returns configured method names in a stable order.
func (c PaymentConfig) MethodNames() []string {
	names := make([]string, 0, len(c.Methods))
	for name := range c.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		RegistrationTimeout:  30 * time.Minute,
		PaymentTimeout:       2 * time.Hour,
		Currencies:           []string{"USD", "EUR", "GBP"},
		MinAmount:            decimal.RequireFromString("1.00"),
		MaxAmount:            decimal.RequireFromString("10000.00"),
		SuspiciousUserAgents: []string{"bot", "crawler", "spider", "scraper", "headless", "python-requests", "curl", "wget"},
		Methods: map[string]MethodConfig{
			MethodCard: {
				Enabled:    true,
				Currencies: []string{"USD", "EUR", "GBP"},
				MinAmount:  decimal.RequireFromString("1.00"),
				MaxAmount:  decimal.RequireFromString("10000.00"),
			},
			MethodCrypto: {
				Enabled:    true,
				Currencies: []string{"USD", "EUR"},
				MinAmount:  decimal.RequireFromString("5.00"),
				MaxAmount:  decimal.RequireFromString("10000.00"),
			},
		},
		RateLimits: map[string]RateLimitRule{
			CategoryRegistration:        {MaxAttempts: 20, Decay: 10 * time.Minute},
			CategoryCardPayment:         {MaxAttempts: 5, Decay: 10 * time.Minute},
			CategoryCryptoPayment:       {MaxAttempts: 10, Decay: 5 * time.Minute},
			CategoryPaymentConfirmation: {MaxAttempts: 3, Decay: 15 * time.Minute},
			CategoryPaymentStatus:       {MaxAttempts: 60, Decay: time.Minute},
			CategoryWebhook:             {MaxAttempts: 20, Decay: time.Minute},
			CategoryCallback:            {MaxAttempts: 10, Decay: 5 * time.Minute},
		},
		Gateway: GatewayConfig{
			Environment:          "sandbox",
			Environments:         map[string]GatewayEnvironment{},
			Timeout:              10 * time.Second,
			MaxRetries:           3,
			RetryInitialInterval: 200 * time.Millisecond,
		},
		Webhook: WebhookConfig{
			Algorithm:    "sha256",
			Header:       "X-Signature",
			MaxBodyBytes: 65536,
		},
		Polling: PollingConfig{
			MinInterval: 15 * time.Second,
			LockTTL:     30 * time.Second,
		},
	}
}

type paymentFile struct {
	Payment PaymentConfig `mapstructure:"payment"`
}

// LoadPaymentConfig reads payment.yml over the defaults and applies secret
// overrides from the environment.
func LoadPaymentConfig(cfg Config) (PaymentConfig, error) {
	v := viper.New()
	if cfg.PaymentConfigFile != "" {
		v.SetConfigFile(cfg.PaymentConfigFile)
	} else {
		v.SetConfigName("payment")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/ticketpay")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return PaymentConfig{}, fmt.Errorf("read payment config: %w", err)
		}
	}

	file := paymentFile{Payment: DefaultPaymentConfig()}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	replace := func(dc *mapstructure.DecoderConfig) {
		dc.ZeroFields = true
	}
	if err := v.Unmarshal(&file, hook, replace); err != nil {
		return PaymentConfig{}, fmt.Errorf("decode payment config: %w", err)
	}

	out := file.Payment.withDefaults()
	out.applyEnv()
	if err := out.Validate(); err != nil {
		return PaymentConfig{}, err
	}
	return out, nil
}

func (c PaymentConfig) withDefaults() PaymentConfig {
	defaults := DefaultPaymentConfig()
	if c.RegistrationTimeout <= 0 {
		c.RegistrationTimeout = defaults.RegistrationTimeout
	}
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = defaults.PaymentTimeout
	}
	c.Currencies = normalizeCurrencies(c.Currencies)
	if len(c.Currencies) == 0 {
		c.Currencies = defaults.Currencies
	}

	methods := make(map[string]MethodConfig, len(c.Methods))
	for name, method := range c.Methods {
		name = strings.ToLower(strings.TrimSpace(name))
		method.Currencies = normalizeCurrencies(method.Currencies)
		if len(method.Currencies) == 0 {
			method.Currencies = c.Currencies
		}
		if method.MinAmount.IsZero() {
			method.MinAmount = c.MinAmount
		}
		if method.MaxAmount.IsZero() {
			method.MaxAmount = c.MaxAmount
		}
		methods[name] = method
	}
	c.Methods = methods

	rules := make(map[string]RateLimitRule, len(defaults.RateLimits))
	for category, rule := range defaults.RateLimits {
		rules[category] = rule
	}
	for category, rule := range c.RateLimits {
		category = strings.ToLower(strings.TrimSpace(category))
		def := defaults.RateLimits[category]
		if rule.MaxAttempts <= 0 {
			rule.MaxAttempts = def.MaxAttempts
		}
		if rule.Decay <= 0 {
			rule.Decay = def.Decay
		}
		rules[category] = rule
	}
	c.RateLimits = rules

	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = defaults.Gateway.Timeout
	}
	if c.Gateway.MaxRetries <= 0 {
		c.Gateway.MaxRetries = defaults.Gateway.MaxRetries
	}
	if c.Gateway.RetryInitialInterval <= 0 {
		c.Gateway.RetryInitialInterval = defaults.Gateway.RetryInitialInterval
	}
	c.Gateway.Environment = strings.ToLower(strings.TrimSpace(c.Gateway.Environment))
	if c.Webhook.Header == "" {
		c.Webhook.Header = defaults.Webhook.Header
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		c.Webhook.MaxBodyBytes = defaults.Webhook.MaxBodyBytes
	}
	c.Webhook.Algorithm = strings.ToLower(strings.TrimSpace(c.Webhook.Algorithm))
	if c.Polling.MinInterval <= 0 {
		c.Polling.MinInterval = defaults.Polling.MinInterval
	}
	if c.Polling.LockTTL <= 0 {
		c.Polling.LockTTL = defaults.Polling.LockTTL
	}
	return c
}

// applyEnv lets deployments keep secrets out of payment.yml.
func (c *PaymentConfig) applyEnv() {
	if secret := strings.TrimSpace(os.Getenv("TICKETPAY_WEBHOOK_SECRET")); secret != "" {
		c.Webhook.Secret = secret
	}
	env := c.Gateway.Environment
	active := c.Gateway.Environments[env]
	changed := false
	if v := strings.TrimSpace(os.Getenv("TICKETPAY_GATEWAY_CLIENT_ID")); v != "" {
		active.ClientID = v
		changed = true
	}
	if v := strings.TrimSpace(os.Getenv("TICKETPAY_GATEWAY_CLIENT_SECRET")); v != "" {
		active.ClientSecret = v
		changed = true
	}
	if changed {
		environments := make(map[string]GatewayEnvironment, len(c.Gateway.Environments)+1)
		for name, value := range c.Gateway.Environments {
			environments[name] = value
		}
		environments[env] = active
		c.Gateway.Environments = environments
	}
}

// Validate rejects configurations the payment core cannot run with.
func (c PaymentConfig) Validate() error {
	if c.MinAmount.IsNegative() || c.MaxAmount.LessThanOrEqual(c.MinAmount) {
		return errors.New("payment.minAmount must be below payment.maxAmount")
	}
	if len(c.Methods) == 0 {
		return errors.New("payment.methods cannot be empty")
	}
	for name, method := range c.Methods {
		if name != MethodCard && name != MethodCrypto {
			return fmt.Errorf("payment.methods.%s is not a supported method", name)
		}
		if method.MaxAmount.LessThanOrEqual(method.MinAmount) {
			return fmt.Errorf("payment.methods.%s amount bounds are inverted", name)
		}
	}
	for category, rule := range c.RateLimits {
		if rule.MaxAttempts <= 0 || rule.Decay <= 0 {
			return fmt.Errorf("payment.rateLimits.%s must be positive", category)
		}
	}
	if c.Webhook.Algorithm != "sha256" {
		return fmt.Errorf("payment.webhook.algorithm %q is not supported", c.Webhook.Algorithm)
	}
	if strings.TrimSpace(c.Webhook.Secret) == "" {
		return errors.New("payment.webhook.secret is required")
	}
	if _, ok := c.Gateway.Active(); !ok {
		return fmt.Errorf("payment.gateway.environments.%s is not configured", c.Gateway.Environment)
	}
	return nil
}

func normalizeCurrencies(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToUpper(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
