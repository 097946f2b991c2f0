package market

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"agent-trading-floor/internal/types"
)

// countingSource wraps a fixed price and counts upstream fetches.
type countingSource struct {
	price   decimal.Decimal
	fail    atomic.Bool
	fetches atomic.Int64
}

func (c *countingSource) Fetch(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	c.fetches.Add(1)
	if err := ctx.Err(); err != nil {
		return decimal.Zero, time.Time{}, err
	}
	if c.fail.Load() {
		return decimal.Zero, time.Time{}, fmt.Errorf("upstream down")
	}
	return c.price, time.Now().UTC(), nil
}

func TestPriceCachedWithinBucket(t *testing.T) {
	src := &countingSource{price: decimal.NewFromInt(100)}
	o := NewOracle(src, time.Hour)

	asOf := time.Now().UTC()
	for i := 0; i < 5; i++ {
		q, err := o.Price(context.Background(), "TCS.NS", asOf)
		require.NoError(t, err)
		require.Equal(t, "100", q.Price.String())
	}
	require.Equal(t, int64(1), src.fetches.Load(), "same bucket must hit upstream once")
}

func TestPriceConcurrentMissesCoalesced(t *testing.T) {
	src := &countingSource{price: decimal.NewFromInt(100)}
	o := NewOracle(src, time.Hour)
	asOf := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Price(context.Background(), "TCS.NS", asOf)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), src.fetches.Load(), "concurrent misses must share one fetch")
}

func TestPriceUnavailable(t *testing.T) {
	src := &countingSource{price: decimal.NewFromInt(100)}
	src.fail.Store(true)
	o := NewOracle(src, time.Hour)

	_, err := o.Price(context.Background(), "TCS.NS", time.Now().UTC())
	require.ErrorIs(t, err, types.ErrPriceUnavailable)

	_, ok := o.LastKnown("TCS.NS")
	require.False(t, ok, "failed fetch must not establish a last-known price")
}

func TestPriceRejectsNonPositiveQuote(t *testing.T) {
	src := &countingSource{price: decimal.Zero}
	o := NewOracle(src, time.Hour)

	_, err := o.Price(context.Background(), "TCS.NS", time.Now().UTC())
	require.ErrorIs(t, err, types.ErrPriceUnavailable)
}

func TestLastKnownFlaggedStale(t *testing.T) {
	src := &countingSource{price: decimal.NewFromInt(4100)}
	o := NewOracle(src, time.Hour)

	_, err := o.Price(context.Background(), "TCS.NS", time.Now().UTC())
	require.NoError(t, err)

	src.fail.Store(true)
	q, ok := o.LastKnown("TCS.NS")
	require.True(t, ok)
	require.True(t, q.Stale)
	require.Equal(t, "4100", q.Price.String())
}

// A cancelled caller must not poison the shared flight for its bucket.
func TestCancelledCallerDoesNotPoisonFlight(t *testing.T) {
	src := &countingSource{price: decimal.NewFromInt(100)}
	o := NewOracle(src, time.Hour)
	asOf := time.Now().UTC()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q, err := o.Price(ctx, "TCS.NS", asOf)
	require.NoError(t, err, "the upstream fetch is detached from the caller's cancellation")
	require.Equal(t, "100", q.Price.String())

	_, err = o.Price(context.Background(), "TCS.NS", asOf)
	require.NoError(t, err)
	require.Equal(t, int64(1), src.fetches.Load(), "the bucket filled by the cancelled caller serves peers")
}

func TestExpiredBucketsPruned(t *testing.T) {
	src := &countingSource{price: decimal.NewFromInt(100)}
	o := NewOracle(src, time.Minute)

	o.mu.Lock()
	o.cache["TCS.NS|stale-bucket"] = cacheEntry{
		quote:     types.Quote{Symbol: "TCS.NS", Price: decimal.NewFromInt(90)},
		fetchedAt: time.Now().Add(-2 * time.Minute),
	}
	o.mu.Unlock()

	_, err := o.Price(context.Background(), "INFY.NS", time.Now().UTC())
	require.NoError(t, err)

	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.cache["TCS.NS|stale-bucket"]
	require.False(t, ok, "expired buckets are dropped on insert")
	require.Len(t, o.cache, 1)
}

func TestDistinctBucketsRefetch(t *testing.T) {
	src := &countingSource{price: decimal.NewFromInt(100)}
	o := NewOracle(src, time.Minute)

	base := time.Now().UTC().Truncate(time.Minute)
	_, err := o.Price(context.Background(), "TCS.NS", base)
	require.NoError(t, err)
	_, err = o.Price(context.Background(), "TCS.NS", base.Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(2), src.fetches.Load(), "different time buckets are separate cache keys")
}
