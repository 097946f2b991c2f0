package market

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"agent-trading-floor/internal/interfaces"
	"agent-trading-floor/internal/types"
)

var (
	prefixRe = regexp.MustCompile(`(?i)^(NSE|BSE)[:/]`)
	punctRe  = regexp.MustCompile(`[&@#()\[\]']`)
	suffixRe = regexp.MustCompile(`(?i)\.(NS|BO)$`)
)

// SymbolValidator enforces market naming rules and performs at most one
// price-oracle existence probe per validation.
type SymbolValidator struct {
	market string
	prices interfaces.PriceSource
}

func NewSymbolValidator(market string, prices interfaces.PriceSource) *SymbolValidator {
	return &SymbolValidator{market: market, prices: prices}
}

var _ interfaces.Validator = (*SymbolValidator)(nil)

// Normalize canonicalizes an agent-entered ticker: strips exchange prefixes
// and separators, upper-cases, and attaches the NSE suffix for plain names
// on the NSE market.
//
//	"NSE:LT"   -> "LT.NS"
//	"l&t.ns"   -> "LT.NS"
//	"reliance" -> "RELIANCE.NS" (NSE market)
func Normalize(symbol, market string) string {
	s := strings.TrimSpace(symbol)
	s = prefixRe.ReplaceAllString(s, "")
	for _, sep := range []string{" ", "-", "/", "\\"} {
		s = strings.ReplaceAll(s, sep, "")
	}
	s = punctRe.ReplaceAllString(s, "")
	s = strings.ToUpper(s)

	if market == "NSE" && !suffixRe.MatchString(s) && s != "" {
		s += ".NS"
	}
	return s
}

// Validate returns the canonical symbol or types.ErrInvalidInstrument. The
// check is pure apart from a single existence probe against the price
// oracle.
func (v *SymbolValidator) Validate(ctx context.Context, symbol string) (string, error) {
	canonical := Normalize(symbol, v.market)
	if canonical == "" || canonical == ".NS" {
		return "", fmt.Errorf("%w: empty symbol", types.ErrInvalidInstrument)
	}
	if v.market == "NSE" && !strings.HasSuffix(canonical, ".NS") {
		return "", fmt.Errorf("%w: %s missing NSE suffix", types.ErrInvalidInstrument, canonical)
	}
	if v.market == "US" && suffixRe.MatchString(canonical) {
		return "", fmt.Errorf("%w: %s carries a non-US exchange suffix", types.ErrInvalidInstrument, canonical)
	}

	if _, err := v.prices.Price(ctx, canonical, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("%w: %s not resolvable", types.ErrInvalidInstrument, canonical)
	}
	return canonical, nil
}
