package snapshot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"agent-trading-floor/internal/account"
	"agent-trading-floor/internal/types"
)

// tablePrices is a PriceSource with a mutable table and explicit last-known
// control.
type tablePrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	last   map[string]types.Quote
}

func newTablePrices() *tablePrices {
	return &tablePrices{prices: map[string]decimal.Decimal{}, last: map[string]types.Quote{}}
}

func (p *tablePrices) set(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *tablePrices) drop(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.prices, symbol)
}

func (p *tablePrices) Price(ctx context.Context, symbol string, asOf time.Time) (types.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return types.Quote{}, fmt.Errorf("%w: %s", types.ErrPriceUnavailable, symbol)
	}
	q := types.Quote{Symbol: symbol, Price: price, At: asOf}
	p.last[symbol] = q
	return q, nil
}

func (p *tablePrices) LastKnown(symbol string) (types.Quote, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.last[symbol]
	q.Stale = true
	return q, ok
}

func newTestEngine(t *testing.T) (*Engine, *account.Store, *tablePrices) {
	t.Helper()
	dir := t.TempDir()
	store, err := account.NewStore(dir, decimal.NewFromInt(10000))
	require.NoError(t, err)
	require.NoError(t, store.Open(context.Background(), "warren"))

	prices := newTablePrices()
	e, err := NewEngine(store, prices, dir)
	require.NoError(t, err)
	require.NoError(t, e.Open("warren"))
	return e, store, prices
}

func TestRecordIdempotentPerSecond(t *testing.T) {
	e, _, _ := newTestEngine(t)
	asOf := time.Now().UTC()

	first, err := e.Record(context.Background(), "warren", asOf)
	require.NoError(t, err)

	// Same second, different sub-second offset: same point, no duplicate.
	again, err := e.Record(context.Background(), "warren", asOf.Truncate(time.Second).Add(300*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, first.At, again.At)
	require.Equal(t, first.Total.String(), again.Total.String())
	require.Len(t, e.Series("warren"), 1)
}

func TestRecordMarksToMarket(t *testing.T) {
	e, store, prices := newTestEngine(t)
	ctx := context.Background()
	prices.set("TCS.NS", decimal.NewFromInt(4000))

	_, err := store.ApplyTrade(ctx, "warren", "TCS.NS", types.Buy, 2, decimal.NewFromInt(4000), "")
	require.NoError(t, err)

	prices.set("TCS.NS", decimal.NewFromInt(4500))
	snap, err := e.Record(ctx, "warren", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, "2000", snap.Cash.String())
	require.Equal(t, "9000", snap.HoldingsValue.String())
	require.Equal(t, "11000", snap.Total.String())
	require.False(t, snap.Stale)
}

func TestRecordFallsBackToLastKnown(t *testing.T) {
	e, store, prices := newTestEngine(t)
	ctx := context.Background()
	prices.set("TCS.NS", decimal.NewFromInt(4000))

	_, err := store.ApplyTrade(ctx, "warren", "TCS.NS", types.Buy, 1, decimal.NewFromInt(4000), "")
	require.NoError(t, err)

	// Establish a last-known price, then take the source down.
	base := time.Now().UTC()
	_, err = e.Record(ctx, "warren", base)
	require.NoError(t, err)
	prices.drop("TCS.NS")

	snap, err := e.Record(ctx, "warren", base.Add(2*time.Second))
	require.NoError(t, err)
	require.True(t, snap.Stale, "fallback valuation must be flagged")
	require.Equal(t, "10000", snap.Total.String())
}

func TestRecordFailsWithoutAnyPrice(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := store.ApplyTrade(ctx, "warren", "TCS.NS", types.Buy, 1, decimal.NewFromInt(4000), "")
	require.NoError(t, err)

	_, err = e.Record(ctx, "warren", time.Now().UTC())
	require.ErrorIs(t, err, types.ErrPriceUnavailable)
	require.Empty(t, e.Series("warren"), "a failed snapshot must not append")
}

func TestSeriesPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, err := account.NewStore(dir, decimal.NewFromInt(10000))
	require.NoError(t, err)
	require.NoError(t, store.Open(ctx, "warren"))
	prices := newTablePrices()

	e1, err := NewEngine(store, prices, dir)
	require.NoError(t, err)
	require.NoError(t, e1.Open("warren"))
	base := time.Now().UTC()
	_, err = e1.Record(ctx, "warren", base)
	require.NoError(t, err)
	_, err = e1.Record(ctx, "warren", base.Add(time.Second))
	require.NoError(t, err)

	e2, err := NewEngine(store, prices, dir)
	require.NoError(t, err)
	require.NoError(t, e2.Open("warren"))
	require.Len(t, e2.Series("warren"), 2)

	// A reloaded series still dedupes against previously recorded seconds.
	_, err = e2.Record(ctx, "warren", base)
	require.NoError(t, err)
	require.Len(t, e2.Series("warren"), 2)
}

func TestCandlesFolding(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Minute)

	// Cash-only account: four flat points in minute one, one in minute two.
	times := []time.Time{
		base, base.Add(10 * time.Second), base.Add(20 * time.Second), base.Add(50 * time.Second),
		base.Add(70 * time.Second),
	}
	for _, at := range times {
		_, err := e.Record(ctx, "warren", at)
		require.NoError(t, err)
	}

	candles, err := e.Candles("warren", time.Minute, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, candles, 2)
	require.Equal(t, base, candles[0].Start)
	require.Equal(t, base.Add(time.Minute), candles[1].Start)
	require.Equal(t, "10000", candles[0].Open.String())
	require.Equal(t, "10000", candles[0].High.String())
	require.Equal(t, "10000", candles[0].Low.String())
	require.Equal(t, "10000", candles[0].Close.String())
}

func TestCandlesTrackExtremaAndVolume(t *testing.T) {
	e, store, prices := newTestEngine(t)
	ctx := context.Background()
	prices.set("TCS.NS", decimal.NewFromInt(1000))

	// The trade timestamps come from the wall clock, so keep the whole test
	// inside one real-time window and bucket generously.
	_, err := store.ApplyTrade(ctx, "warren", "TCS.NS", types.Buy, 4, decimal.NewFromInt(1000), "")
	require.NoError(t, err)

	base := time.Now().UTC()
	_, err = e.Record(ctx, "warren", base)
	require.NoError(t, err)

	prices.set("TCS.NS", decimal.NewFromInt(1500))
	_, err = e.Record(ctx, "warren", base.Add(time.Second))
	require.NoError(t, err)

	prices.set("TCS.NS", decimal.NewFromInt(800))
	_, err = e.Record(ctx, "warren", base.Add(2*time.Second))
	require.NoError(t, err)

	candles, err := e.Candles("warren", time.Hour, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, candles, 1)

	c := candles[0]
	require.Equal(t, "10000", c.Open.String())  // 6000 cash + 4x1000
	require.Equal(t, "12000", c.High.String())  // 6000 cash + 4x1500
	require.Equal(t, "9200", c.Low.String())    // 6000 cash + 4x800
	require.Equal(t, "9200", c.Close.String())
	require.Equal(t, int64(4), c.Volume, "volume sums traded quantity in the bucket")
}

func TestCandlesRangeFilter(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Minute)

	for _, at := range []time.Time{base, base.Add(time.Minute), base.Add(2 * time.Minute)} {
		_, err := e.Record(ctx, "warren", at)
		require.NoError(t, err)
	}

	candles, err := e.Candles("warren", time.Minute, base.Add(time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	require.Equal(t, base.Add(time.Minute), candles[0].Start)
}
