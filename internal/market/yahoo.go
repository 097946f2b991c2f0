package market

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
)

// YahooSource fetches live quotes from Yahoo Finance. It covers both NSE
// (".NS" suffixed) and US tickers.
type YahooSource struct{}

func NewYahooSource() *YahooSource {
	return &YahooSource{}
}

var _ Upstream = (*YahooSource)(nil)

func (y *YahooSource) Fetch(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, time.Time{}, err
	}
	q, err := quote.Get(symbol)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("yahoo quote %s: %w", symbol, err)
	}
	if q == nil || q.RegularMarketPrice <= 0 {
		return decimal.Zero, time.Time{}, fmt.Errorf("yahoo quote %s: no market price", symbol)
	}
	at := time.Unix(int64(q.RegularMarketTime), 0).UTC()
	if q.RegularMarketTime == 0 {
		at = time.Now().UTC()
	}
	return decimal.NewFromFloat(q.RegularMarketPrice), at, nil
}
