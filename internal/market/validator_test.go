package market

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"agent-trading-floor/internal/types"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in     string
		market string
		want   string
	}{
		{"NSE:LT", "NSE", "LT.NS"},
		{"nse/reliance", "NSE", "RELIANCE.NS"},
		{"l&t.ns", "NSE", "LT.NS"},
		{"reliance", "NSE", "RELIANCE.NS"},
		{" tata motors ", "NSE", "TATAMOTORS.NS"},
		{"BSE:TCS", "NSE", "TCS.NS"},
		{"M&M", "NSE", "MM.NS"},
		{"bajaj-auto", "NSE", "BAJAJAUTO.NS"},
		{"INFY.NS", "NSE", "INFY.NS"},
		{"hdfc.BO", "NSE", "HDFC.BO"},
		{"aapl", "US", "AAPL"},
		{"brk/b", "US", "BRKB"},
		{"", "NSE", ""},
	}
	for _, tc := range cases {
		got := Normalize(tc.in, tc.market)
		require.Equal(t, tc.want, got, "Normalize(%q, %q)", tc.in, tc.market)
	}
}

func TestValidateResolvable(t *testing.T) {
	src := NewStaticSource(map[string]decimal.Decimal{
		"RELIANCE.NS": decimal.NewFromInt(2950),
	})
	oracle := NewOracle(src, 0)
	v := NewSymbolValidator("NSE", oracle)

	canonical, err := v.Validate(context.Background(), "NSE:reliance")
	require.NoError(t, err)
	require.Equal(t, "RELIANCE.NS", canonical)
}

func TestValidateUnknownInstrument(t *testing.T) {
	src := NewStaticSource(nil)
	v := NewSymbolValidator("NSE", NewOracle(src, 0))

	_, err := v.Validate(context.Background(), "ZZZINVALID")
	require.ErrorIs(t, err, types.ErrInvalidInstrument)
}

func TestValidateEmptySymbol(t *testing.T) {
	v := NewSymbolValidator("NSE", NewOracle(NewStaticSource(nil), 0))

	for _, in := range []string{"", "   ", "&@#"} {
		_, err := v.Validate(context.Background(), in)
		require.ErrorIs(t, err, types.ErrInvalidInstrument, "input %q", in)
	}
}

func TestValidateUSMarketRejectsExchangeSuffix(t *testing.T) {
	src := NewStaticSource(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(230)})
	v := NewSymbolValidator("US", NewOracle(src, 0))

	_, err := v.Validate(context.Background(), "RELIANCE.NS")
	require.ErrorIs(t, err, types.ErrInvalidInstrument)

	canonical, err := v.Validate(context.Background(), "aapl")
	require.NoError(t, err)
	require.Equal(t, "AAPL", canonical)
}
