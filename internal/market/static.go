package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StaticSource serves a fixed price table. Used for the STATIC data source
// mode and in tests; unknown symbols are unresolvable, matching the live
// source's behavior for bad tickers.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	cp := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticSource{prices: cp}
}

var _ Upstream = (*StaticSource)(nil)

func (s *StaticSource) Fetch(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, time.Time{}, err
	}
	s.mu.RLock()
	p, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("static source: unknown symbol %s", symbol)
	}
	return p, time.Now().UTC(), nil
}

// Set updates one symbol's price. Test hook and dev tool.
func (s *StaticSource) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// Remove drops a symbol, making it unresolvable from then on.
func (s *StaticSource) Remove(symbol string) {
	s.mu.Lock()
	delete(s.prices, symbol)
	s.mu.Unlock()
}
