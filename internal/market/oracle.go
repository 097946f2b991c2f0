package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"agent-trading-floor/internal/interfaces"
	"agent-trading-floor/internal/logger"
	"agent-trading-floor/internal/types"
)

// Upstream is the raw quote source behind the oracle cache.
type Upstream interface {
	Fetch(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
}

type cacheEntry struct {
	quote     types.Quote
	fetchedAt time.Time
}

// Oracle resolves (symbol, asOf) to a price through a TTL cache keyed by
// (symbol, time-bucket). Concurrent misses for the same key are coalesced
// to a single upstream call. Entries past TTL are re-fetched or the lookup
// fails explicitly; a stale price is never served silently.
type Oracle struct {
	upstream Upstream
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
	last  map[string]types.Quote

	group singleflight.Group
}

func NewOracle(upstream Upstream, ttl time.Duration) *Oracle {
	return &Oracle{
		upstream: upstream,
		ttl:      ttl,
		cache:    make(map[string]cacheEntry),
		last:     make(map[string]types.Quote),
	}
}

var _ interfaces.PriceSource = (*Oracle)(nil)

func (o *Oracle) bucketKey(symbol string, asOf time.Time) string {
	return symbol + "|" + asOf.UTC().Truncate(o.ttl).Format(time.RFC3339)
}

// Price implements interfaces.PriceSource.
func (o *Oracle) Price(ctx context.Context, symbol string, asOf time.Time) (types.Quote, error) {
	key := o.bucketKey(symbol, asOf)

	o.mu.RLock()
	entry, ok := o.cache[key]
	o.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < o.ttl {
		return entry.quote, nil
	}

	// The fetch context is detached from the calling round: coalesced peers
	// share one flight, and a cancelled first caller must not fail them all.
	fetchCtx := context.WithoutCancel(ctx)

	v, err, _ := o.group.Do(key, func() (any, error) {
		// Re-check under the flight: another caller may have filled the
		// bucket while this one waited.
		o.mu.RLock()
		entry, ok := o.cache[key]
		o.mu.RUnlock()
		if ok && time.Since(entry.fetchedAt) < o.ttl {
			return entry.quote, nil
		}

		price, at, err := o.upstream.Fetch(fetchCtx, symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrPriceUnavailable, symbol, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("%w: %s: non-positive quote", types.ErrPriceUnavailable, symbol)
		}

		q := types.Quote{Symbol: symbol, Price: price, At: at}
		o.mu.Lock()
		o.pruneLocked()
		o.cache[key] = cacheEntry{quote: q, fetchedAt: time.Now()}
		o.last[symbol] = q
		o.mu.Unlock()
		return q, nil
	})
	if err != nil {
		logger.Debug(ctx, "Price fetch failed", "symbol", symbol, "error", err)
		return types.Quote{}, err
	}
	return v.(types.Quote), nil
}

// pruneLocked drops expired buckets so the cache stays bounded at one live
// entry per symbol instead of one per symbol per TTL bucket. Caller holds
// the write lock.
func (o *Oracle) pruneLocked() {
	for k, e := range o.cache {
		if time.Since(e.fetchedAt) >= o.ttl {
			delete(o.cache, k)
		}
	}
}

// LastKnown returns the most recent quote ever resolved for symbol, flagged
// stale. Only the snapshot engine consumes these.
func (o *Oracle) LastKnown(symbol string) (types.Quote, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	q, ok := o.last[symbol]
	if !ok {
		return types.Quote{}, false
	}
	q.Stale = true
	return q, true
}
