// Package snapshot turns trade history into an appendable valuation time
// series and folds it into OHLCV candles for charting.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"agent-trading-floor/internal/account"
	"agent-trading-floor/internal/interfaces"
	"agent-trading-floor/internal/logger"
	"agent-trading-floor/internal/types"
)

// Engine computes and persists portfolio snapshots. Series are append-only
// and strictly time-ordered per agent; recording is idempotent per
// (agent, second).
type Engine struct {
	store  *account.Store
	prices interfaces.PriceSource
	dir    string

	mu       sync.Mutex
	series   map[string][]types.Snapshot
	recorded map[string]map[int64]types.Snapshot
}

func NewEngine(store *account.Store, prices interfaces.PriceSource, dataDir string) (*Engine, error) {
	dir := filepath.Join(dataDir, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Engine{
		store:    store,
		prices:   prices,
		dir:      dir,
		series:   make(map[string][]types.Snapshot),
		recorded: make(map[string]map[int64]types.Snapshot),
	}, nil
}

// Open loads an agent's persisted series. Called once per agent at session
// start.
func (e *Engine) Open(agentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.recorded[agentID]; ok {
		return nil
	}
	e.recorded[agentID] = make(map[int64]types.Snapshot)

	f, err := os.Open(e.path(agentID))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for dec.More() {
		var s types.Snapshot
		if err := dec.Decode(&s); err != nil {
			return fmt.Errorf("corrupt snapshot series %s: %w", agentID, err)
		}
		e.series[agentID] = append(e.series[agentID], s)
		e.recorded[agentID][s.At.Unix()] = s
	}
	return nil
}

func (e *Engine) path(agentID string) string {
	return filepath.Join(e.dir, agentID+".jsonl")
}

// Record computes total value = cash + mark-to-market holdings and appends
// one point. Re-invocation for an already-recorded (agent, asOf) returns
// the recorded point without duplicating it. When the price oracle is down
// the last-known price is used and the point is flagged stale; with no
// last-known price at all the snapshot fails with ErrPriceUnavailable and
// nothing is appended.
func (e *Engine) Record(ctx context.Context, agentID string, asOf time.Time) (types.Snapshot, error) {
	key := asOf.UTC().Truncate(time.Second)

	e.mu.Lock()
	if existing, ok := e.recorded[agentID][key.Unix()]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.mu.Unlock()

	acct, err := e.store.Get(agentID)
	if err != nil {
		return types.Snapshot{}, err
	}

	holdingsValue, stale, err := e.valueHoldings(ctx, acct.Holdings, key)
	if err != nil {
		return types.Snapshot{}, err
	}

	snap := types.Snapshot{
		AgentID:       agentID,
		At:            key,
		Cash:          acct.Cash,
		HoldingsValue: holdingsValue,
		Total:         acct.Cash.Add(holdingsValue),
		Stale:         stale,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Lost a race for the same second: keep the first recorded point.
	if existing, ok := e.recorded[agentID][key.Unix()]; ok {
		return existing, nil
	}
	if n := len(e.series[agentID]); n > 0 && !e.series[agentID][n-1].At.Before(key) {
		return types.Snapshot{}, fmt.Errorf("snapshot for %s at %s is not after the series tail", agentID, key)
	}
	if err := e.append(agentID, snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("persist snapshot %s: %w", agentID, err)
	}
	e.series[agentID] = append(e.series[agentID], snap)
	e.recorded[agentID][key.Unix()] = snap

	logger.Debug(ctx, "Snapshot recorded", "agent", agentID, "total", snap.Total.String(), "stale", snap.Stale)
	return snap, nil
}

func (e *Engine) valueHoldings(ctx context.Context, holdings map[string]int, asOf time.Time) (decimal.Decimal, bool, error) {
	total := decimal.Zero
	stale := false
	for symbol, qty := range holdings {
		quote, err := e.prices.Price(ctx, symbol, asOf)
		if err != nil {
			last, ok := e.prices.LastKnown(symbol)
			if !ok {
				return decimal.Zero, false, fmt.Errorf("%w: %s has no last-known price", types.ErrPriceUnavailable, symbol)
			}
			quote = last
			stale = true
		}
		total = total.Add(quote.Price.Mul(decimal.NewFromInt(int64(qty))))
	}
	return total, stale, nil
}

func (e *Engine) append(agentID string, snap types.Snapshot) error {
	f, err := os.OpenFile(e.path(agentID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// Series returns a copy of the agent's recorded points in time order.
func (e *Engine) Series(agentID string) []types.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Snapshot, len(e.series[agentID]))
	copy(out, e.series[agentID])
	return out
}

// Candles folds the snapshot series into OHLCV buckets of the given
// resolution: open = first value in the bucket, close = last, high/low the
// extrema, volume = sum of absolute traded quantities in the bucket. Empty
// buckets are dropped.
func (e *Engine) Candles(agentID string, resolution time.Duration, from, to time.Time) ([]types.Candle, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("invalid candle resolution %s", resolution)
	}
	points := e.Series(agentID)
	if len(points) == 0 {
		return nil, nil
	}

	buckets := make(map[int64]*types.Candle)
	for _, p := range points {
		if (!from.IsZero() && p.At.Before(from)) || (!to.IsZero() && p.At.After(to)) {
			continue
		}
		start := p.At.Truncate(resolution)
		c, ok := buckets[start.Unix()]
		if !ok {
			buckets[start.Unix()] = &types.Candle{
				Start: start,
				Open:  p.Total, High: p.Total, Low: p.Total, Close: p.Total,
			}
			continue
		}
		if p.Total.GreaterThan(c.High) {
			c.High = p.Total
		}
		if p.Total.LessThan(c.Low) {
			c.Low = p.Total
		}
		c.Close = p.Total
	}
	if len(buckets) == 0 {
		return nil, nil
	}

	acct, err := e.store.Get(agentID)
	if err != nil {
		return nil, err
	}
	for _, txn := range acct.Transactions {
		start := txn.At.Truncate(resolution)
		if c, ok := buckets[start.Unix()]; ok {
			c.Volume += int64(txn.Qty)
		}
	}

	out := make([]types.Candle, 0, len(buckets))
	for _, c := range buckets {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
