package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"agent-trading-floor/internal/account"
	"agent-trading-floor/internal/floorlog"
	"agent-trading-floor/internal/interfaces"
	"agent-trading-floor/internal/logger"
	"agent-trading-floor/internal/snapshot"
	"agent-trading-floor/internal/tools"
	"agent-trading-floor/internal/trace"
	"agent-trading-floor/internal/types"
)

// HeadlineSource supplies market headlines for round context. Optional.
type HeadlineSource interface {
	Headlines(ctx context.Context, max int) []string
}

// MarketClock reports whether the market currently accepts trades. Closed
// markets put the round in analysis mode: trading tools are withheld.
type MarketClock func(ctx context.Context) bool

// Runner drives one agent through the round state machine:
// Idle -> ContextGathered -> OracleConsulted -> ToolCallsApplied ->
// SnapshotRecorded -> Idle.
type Runner struct {
	store     *account.Store
	prices    interfaces.PriceSource
	gateway   *tools.Gateway
	decider   interfaces.Decider
	snaps     *snapshot.Engine
	log       *floorlog.Log
	headlines HeadlineSource
	clock     MarketClock

	oracleTimeout time.Duration
	maxHeadlines  int
}

var _ interfaces.Rounder = (*Runner)(nil)

type RunnerParams struct {
	Store         *account.Store
	Prices        interfaces.PriceSource
	Gateway       *tools.Gateway
	Decider       interfaces.Decider
	Snapshots     *snapshot.Engine
	Log           *floorlog.Log
	Headlines     HeadlineSource // nil disables headline context
	Clock         MarketClock    // nil means always open
	OracleTimeout time.Duration
	MaxHeadlines  int
}

func NewRunner(p RunnerParams) *Runner {
	clock := p.Clock
	if clock == nil {
		clock = func(context.Context) bool { return true }
	}
	return &Runner{
		store:         p.Store,
		prices:        p.Prices,
		gateway:       p.Gateway,
		decider:       p.Decider,
		snaps:         p.Snapshots,
		log:           p.Log,
		headlines:     p.Headlines,
		clock:         clock,
		oracleTimeout: p.OracleTimeout,
		maxHeadlines:  p.MaxHeadlines,
	}
}

// RunRound executes one complete decision round. Tool-call failures are
// recorded and the round continues; an oracle timeout degrades to a
// zero-action round. Only an account-integrity failure marks the round
// failed.
func (r *Runner) RunRound(ctx context.Context, agent types.AgentSpec) (*types.RoundResult, error) {
	ctx, span := trace.StartSpan(ctx, "round.Run")
	defer span.End()

	result := &types.RoundResult{
		RoundID: uuid.NewString(),
		Agent:   agent.Name,
		Started: time.Now().UTC(),
	}

	// ContextGathered
	req, marketOpen, err := r.gatherContext(ctx, agent)
	if err != nil {
		return r.fail(ctx, result, "context gathering failed", err)
	}
	r.logPhase(agent.Name, result.RoundID, types.PhaseContextGathered, "")

	// OracleConsulted
	proposal, timedOut := r.consult(ctx, req)
	result.Reasoning = proposal.Reasoning
	result.TimedOut = timedOut
	if timedOut {
		r.logEntry(floorlog.Entry{
			Agent: agent.Name, Kind: "oracle", RoundID: result.RoundID,
			Message: "oracle consultation timed out, no action this round",
			ErrKind: types.ErrKind(types.ErrOracleTimeout),
		})
	}
	r.logPhase(agent.Name, result.RoundID, types.PhaseOracleConsulted, proposal.Reasoning)

	// ToolCallsApplied: decode rejections first (never applied), then the
	// validated calls in submitted order.
	result.Calls = append(result.Calls, proposal.Rejected...)
	applied := r.gateway.Apply(ctx, agent.Name, proposal.Calls, marketOpen)
	result.Calls = append(result.Calls, applied...)
	if len(applied) < len(proposal.Calls) && ctx.Err() != nil {
		result.Incomplete = true
	}
	for _, cr := range result.Calls {
		if cr.ErrKind != "" {
			r.logEntry(floorlog.Entry{
				Agent: agent.Name, Kind: "tool", RoundID: result.RoundID,
				Message: fmt.Sprintf("%s: %s", cr.Call.Kind, cr.ErrMsg), ErrKind: cr.ErrKind,
			})
		}
		// An integrity failure is fatal for this round; other agents' rounds
		// proceed unaffected.
		if cr.ErrKind == types.ErrKind(types.ErrStoreIntegrity) {
			return r.fail(ctx, result, "account integrity failure",
				fmt.Errorf("%w: %s", types.ErrStoreIntegrity, cr.ErrMsg))
		}
	}
	r.logPhase(agent.Name, result.RoundID, types.PhaseToolCallsApplied, "")

	// SnapshotRecorded
	snap, err := r.snaps.Record(ctx, agent.Name, time.Now().UTC())
	if err != nil {
		// Price unavailability blocks only this snapshot, not the round.
		r.logEntry(floorlog.Entry{
			Agent: agent.Name, Kind: "error", RoundID: result.RoundID,
			Message: "snapshot skipped: " + err.Error(), ErrKind: types.ErrKind(err),
		})
	} else {
		result.Snapshot = &snap
	}
	r.logPhase(agent.Name, result.RoundID, types.PhaseSnapshotRecorded, "")

	result.Finished = time.Now().UTC()
	if ctx.Err() != nil {
		result.Incomplete = true
	}
	r.logEntry(floorlog.Entry{
		Agent: agent.Name, Kind: "round", RoundID: result.RoundID,
		Message: fmt.Sprintf("round finished: %d calls, timed_out=%v, incomplete=%v",
			len(result.Calls), result.TimedOut, result.Incomplete),
	})
	logger.Round(ctx, agent.Name, result.RoundID, len(result.Calls),
		"timed_out", result.TimedOut, "incomplete", result.Incomplete)
	return result, nil
}

func (r *Runner) gatherContext(ctx context.Context, agent types.AgentSpec) (types.OracleRequest, bool, error) {
	acct, err := r.store.Get(agent.Name)
	if err != nil {
		return types.OracleRequest{}, false, err
	}

	// Quotes for everything currently held, best effort; a symbol without a
	// price simply drops out of the context.
	symbols := make([]string, 0, len(acct.Holdings))
	for s := range acct.Holdings {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	now := time.Now().UTC()
	quotes := make([]types.Quote, 0, len(symbols))
	holdingsValue := decimal.Zero
	for _, s := range symbols {
		q, err := r.prices.Price(ctx, s, now)
		if err != nil {
			logger.Debug(ctx, "Quote unavailable for context", "agent", agent.Name, "symbol", s)
			continue
		}
		quotes = append(quotes, q)
		holdingsValue = holdingsValue.Add(q.Price.Mul(decimal.NewFromInt(int64(acct.Holdings[s]))))
	}

	pnl, err := r.store.ProfitLoss(agent.Name, holdingsValue)
	if err != nil {
		return types.OracleRequest{}, false, err
	}

	var headlines []string
	if r.headlines != nil {
		headlines = r.headlines.Headlines(ctx, r.maxHeadlines)
	}

	marketOpen := r.clock(ctx)
	return types.OracleRequest{
		Agent:      agent,
		Account:    acct,
		ProfitLoss: pnl.String(),
		Quotes:     quotes,
		Headlines:  headlines,
		MarketOpen: marketOpen,
		CallBudget: r.gateway.Budget(),
	}, marketOpen, nil
}

func (r *Runner) consult(ctx context.Context, req types.OracleRequest) (types.Proposal, bool) {
	octx, cancel := context.WithTimeout(ctx, r.oracleTimeout)
	defer cancel()

	proposal, err := r.decider.Propose(octx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, types.ErrOracleTimeout) {
			return types.Proposal{}, true
		}
		// Any other oracle failure also degrades to a no-action round.
		logger.ErrorWithErr(ctx, "Oracle consultation failed", err, "agent", req.Agent.Name)
		r.logEntry(floorlog.Entry{
			Agent: req.Agent.Name, Kind: "oracle",
			Message: "oracle error: " + err.Error(), ErrKind: types.ErrKind(err),
		})
		return types.Proposal{}, false
	}
	return proposal, false
}

func (r *Runner) fail(ctx context.Context, result *types.RoundResult, msg string, err error) (*types.RoundResult, error) {
	result.Finished = time.Now().UTC()
	result.Incomplete = true
	logger.ErrorWithErr(ctx, "Round failed", err, "agent", result.Agent, "round_id", result.RoundID)
	r.logEntry(floorlog.Entry{
		Agent: result.Agent, Kind: "error", RoundID: result.RoundID,
		Message: msg + ": " + err.Error(), ErrKind: types.ErrKind(err),
	})
	return result, err
}

func (r *Runner) logPhase(agent, roundID string, phase types.RoundPhase, detail string) {
	e := floorlog.Entry{Agent: agent, Kind: "round", RoundID: roundID, Message: string(phase)}
	if detail != "" {
		e.Message += ": " + detail
	}
	r.logEntry(e)
}

func (r *Runner) logEntry(e floorlog.Entry) {
	if r.log == nil {
		return
	}
	if err := r.log.Append(e); err != nil {
		logger.Warn(context.Background(), "Floor log append failed", "agent", e.Agent, "error", err)
	}
}
