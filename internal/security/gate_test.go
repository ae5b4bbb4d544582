package security

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ticketpay/internal/config"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGate() *Gate {
	return NewGate(Params{Cfg: config.DefaultPaymentConfig(), Log: zap.NewNop()})
}

func TestCheckUserAgent(t *testing.T) {
	gate := newGate()
	ctx := context.Background()

	cases := []struct {
		ua      string
		blocked bool
	}{
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 Safari/605.1.15", false},
		{"", true},
		{"python-requests/2.31", true},
		{"Mozilla/5.0 (compatible; Googlebot/2.1)", true},
		{"Mozilla/5.0 HeadlessChrome/120.0", true},
		{"curl/8.4.0", true},
	}
	for _, tc := range cases {
		err := gate.CheckUserAgent(ctx, tc.ua)
		if tc.blocked && err != ErrSuspiciousUserAgent {
			t.Fatalf("expected %q to be blocked, got %v", tc.ua, err)
		}
		if !tc.blocked && err != nil {
			t.Fatalf("expected %q to pass, got %v", tc.ua, err)
		}
	}
}

func TestCheckAmount(t *testing.T) {
	gate := newGate()
	ctx := context.Background()

	require.NoError(t, gate.CheckAmount(ctx, "", decimal.RequireFromString("49.99"), "usd"))
	require.NoError(t, gate.CheckAmount(ctx, "card", decimal.RequireFromString("49.99"), "USD"))

	err := gate.CheckAmount(ctx, "", decimal.RequireFromString("49.99"), "JPY")
	require.ErrorIs(t, err, paymentdomain.ErrInvalidAmountOrCurrency)
	require.ErrorIs(t, err, ErrCurrencyNotAllowed)

	err = gate.CheckAmount(ctx, "", decimal.RequireFromString("0.50"), "USD")
	require.ErrorIs(t, err, ErrAmountOutOfBounds)

	err = gate.CheckAmount(ctx, "", decimal.RequireFromString("10000.01"), "USD")
	require.ErrorIs(t, err, paymentdomain.ErrInvalidAmountOrCurrency)

	// crypto has a higher minimum and no GBP
	err = gate.CheckAmount(ctx, "crypto", decimal.RequireFromString("4.99"), "USD")
	require.ErrorIs(t, err, ErrAmountOutOfBounds)
	err = gate.CheckAmount(ctx, "crypto", decimal.RequireFromString("20.00"), "GBP")
	require.ErrorIs(t, err, ErrCurrencyNotAllowed)

	err = gate.CheckAmount(ctx, "paypal", decimal.RequireFromString("20.00"), "USD")
	require.ErrorIs(t, err, paymentdomain.ErrMethodUnavailable)
}

func TestMethodAllows(t *testing.T) {
	gate := newGate()
	require.True(t, gate.MethodAllows("card", decimal.RequireFromString("1.00"), "GBP"))
	require.False(t, gate.MethodAllows("crypto", decimal.RequireFromString("1.00"), "USD"))
	require.True(t, gate.MethodAllows("crypto", decimal.RequireFromString("10000.00"), "EUR"))
}
