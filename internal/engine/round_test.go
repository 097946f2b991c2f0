package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"agent-trading-floor/internal/account"
	"agent-trading-floor/internal/floorlog"
	"agent-trading-floor/internal/market"
	"agent-trading-floor/internal/snapshot"
	"agent-trading-floor/internal/tools"
	"agent-trading-floor/internal/types"
)

type stubDecider struct {
	proposal types.Proposal
	block    bool
}

func (s *stubDecider) Propose(ctx context.Context, req types.OracleRequest) (types.Proposal, error) {
	if s.block {
		<-ctx.Done()
		return types.Proposal{}, ctx.Err()
	}
	return s.proposal, nil
}

type roundFixture struct {
	runner *Runner
	store  *account.Store
	snaps  *snapshot.Engine
	log    *floorlog.Log
	agent  types.AgentSpec
	dir    string
}

func newRoundFixture(t *testing.T, decider *stubDecider, clock MarketClock) *roundFixture {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	store, err := account.NewStore(dir, decimal.NewFromInt(100000))
	require.NoError(t, err)
	require.NoError(t, store.Open(ctx, "warren"))

	oracle := market.NewOracle(market.NewStaticSource(map[string]decimal.Decimal{
		"RELIANCE.NS": decimal.NewFromInt(1500),
	}), time.Hour)
	validator := market.NewSymbolValidator("NSE", oracle)
	executor := NewExecutor(validator, oracle, store, decimal.Zero)
	gateway := tools.NewGateway(store, executor, &dropNotifier{}, 20)

	snaps, err := snapshot.NewEngine(store, oracle, dir)
	require.NoError(t, err)
	require.NoError(t, snaps.Open("warren"))

	flog := floorlog.New(dir)

	runner := NewRunner(RunnerParams{
		Store:         store,
		Prices:        oracle,
		Gateway:       gateway,
		Decider:       decider,
		Snapshots:     snaps,
		Log:           flog,
		Clock:         clock,
		OracleTimeout: 50 * time.Millisecond,
	})
	return &roundFixture{
		runner: runner,
		store:  store,
		snaps:  snaps,
		log:    flog,
		agent:  types.AgentSpec{Name: "warren", Model: "gpt-4o-mini", Strategy: "value"},
		dir:    dir,
	}
}

type dropNotifier struct{}

func (*dropNotifier) Send(ctx context.Context, message, severity string) {}

func TestRunRoundExecutesProposedTrade(t *testing.T) {
	decider := &stubDecider{proposal: types.Proposal{
		Reasoning: "reliance looks cheap",
		Calls: []types.ToolCall{
			{Kind: types.ToolGetBalance},
			{Kind: types.ToolExecuteTrade, Trade: &types.TradeArgs{
				Symbol: "reliance", Side: types.Buy, Quantity: 10, Rationale: "entry",
			}},
		},
	}}
	f := newRoundFixture(t, decider, nil)

	result, err := f.runner.RunRound(context.Background(), f.agent)
	require.NoError(t, err)
	require.False(t, result.TimedOut)
	require.False(t, result.Incomplete)
	require.Equal(t, "reliance looks cheap", result.Reasoning)
	require.Len(t, result.Calls, 2)
	for _, c := range result.Calls {
		require.Empty(t, c.ErrKind, "call %s failed: %s", c.Call.Kind, c.ErrMsg)
	}

	snap, err := f.store.Get("warren")
	require.NoError(t, err)
	require.Equal(t, "85000", snap.Cash.String())
	require.Equal(t, 10, snap.Holdings["RELIANCE.NS"])

	require.NotNil(t, result.Snapshot)
	require.Equal(t, "100000", result.Snapshot.Total.String(), "cash plus marked holdings at an unchanged quote")
}

func TestRunRoundOracleTimeoutDegradesToNoAction(t *testing.T) {
	f := newRoundFixture(t, &stubDecider{block: true}, nil)

	result, err := f.runner.RunRound(context.Background(), f.agent)
	require.NoError(t, err, "a timed-out oracle is a degraded round, not a failed one")
	require.True(t, result.TimedOut)
	require.Empty(t, result.Calls)

	snap, err := f.store.Get("warren")
	require.NoError(t, err)
	require.Equal(t, "100000", snap.Cash.String(), "no action on timeout")
	require.NotNil(t, result.Snapshot, "valuation still recorded on a timed-out round")

	entries, err := f.log.ReadDay("warren", time.Now().UTC())
	require.NoError(t, err)
	var sawTimeout bool
	for _, e := range entries {
		if e.Kind == "oracle" && e.ErrKind == "OracleTimeout" {
			sawTimeout = true
		}
	}
	require.True(t, sawTimeout, "timeout must be visible in the floor log")
}

func TestRunRoundMarketClosedWithholdsTrades(t *testing.T) {
	decider := &stubDecider{proposal: types.Proposal{
		Reasoning: "try anyway",
		Calls: []types.ToolCall{
			{Kind: types.ToolExecuteTrade, Trade: &types.TradeArgs{
				Symbol: "RELIANCE.NS", Side: types.Buy, Quantity: 1,
			}},
		},
	}}
	closed := func(context.Context) bool { return false }
	f := newRoundFixture(t, decider, closed)

	result, err := f.runner.RunRound(context.Background(), f.agent)
	require.NoError(t, err)
	require.Len(t, result.Calls, 1)
	require.Equal(t, "InvalidToolCall", result.Calls[0].ErrKind)

	snap, err := f.store.Get("warren")
	require.NoError(t, err)
	require.Equal(t, "100000", snap.Cash.String())
}

func TestRunRoundIntegrityFailureFailsRound(t *testing.T) {
	decider := &stubDecider{proposal: types.Proposal{
		Calls: []types.ToolCall{
			{Kind: types.ToolExecuteTrade, Trade: &types.TradeArgs{
				Symbol: "RELIANCE.NS", Side: types.Buy, Quantity: 1,
			}},
			{Kind: types.ToolGetBalance},
		},
	}}
	f := newRoundFixture(t, decider, nil)

	// Squat the account's atomic-write temp path so the durable write fails
	// after the in-memory commit.
	require.NoError(t, os.Mkdir(filepath.Join(f.dir, "accounts", "warren.json.tmp"), 0o755))

	result, err := f.runner.RunRound(context.Background(), f.agent)
	require.ErrorIs(t, err, types.ErrStoreIntegrity)
	require.True(t, result.Incomplete, "integrity failure must mark the round failed for audit")
	require.Len(t, result.Calls, 1, "no call runs after an integrity failure")
	require.Equal(t, "StoreIntegrity", result.Calls[0].ErrKind)

	entries, err := f.log.ReadDay("warren", time.Now().UTC())
	require.NoError(t, err)
	var sawIntegrity bool
	for _, e := range entries {
		if e.Kind == "error" && e.ErrKind == "StoreIntegrity" {
			sawIntegrity = true
		}
	}
	require.True(t, sawIntegrity, "integrity failure must be visible in the floor log")
}

func TestRunRoundFailedCallDoesNotAbortRound(t *testing.T) {
	decider := &stubDecider{proposal: types.Proposal{
		Calls: []types.ToolCall{
			{Kind: types.ToolExecuteTrade, Trade: &types.TradeArgs{
				Symbol: "ZZZINVALID", Side: types.Buy, Quantity: 1,
			}},
			{Kind: types.ToolGetHoldings},
		},
	}}
	f := newRoundFixture(t, decider, nil)

	result, err := f.runner.RunRound(context.Background(), f.agent)
	require.NoError(t, err)
	require.Len(t, result.Calls, 2)
	require.Equal(t, "InvalidInstrument", result.Calls[0].ErrKind)
	require.Empty(t, result.Calls[1].ErrKind)
}
