package llmobs

import (
	"context"

	"agent-trading-floor/internal/interfaces"
	"agent-trading-floor/internal/logger"
	"agent-trading-floor/internal/trace"
	"agent-trading-floor/internal/types"
)

// observableDecider wraps a Decider with observability (logging & tracing)
type observableDecider struct {
	decider interfaces.Decider
}

// Compile-time interface check
var _ interfaces.Decider = (*observableDecider)(nil)

// Wrap wraps a decider with observability middleware
func Wrap(decider interfaces.Decider) interfaces.Decider {
	return &observableDecider{
		decider: decider,
	}
}

// Propose consults the decision oracle with observability
func (od *observableDecider) Propose(ctx context.Context, req types.OracleRequest) (types.Proposal, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Propose")
	defer span.End()

	// Use Skip(1) to report the actual caller, not this middleware wrapper
	logger.DebugSkip(ctx, 1, "Requesting oracle proposal",
		"agent", req.Agent.Name,
		"model", req.Agent.Model,
		"market_open", req.MarketOpen,
	)

	proposal, err := od.decider.Propose(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to get oracle proposal", err,
			"agent", req.Agent.Name,
			"model", req.Agent.Model,
		)
		return types.Proposal{}, err
	}

	logger.InfoSkip(ctx, 1, "Oracle proposal received",
		"agent", req.Agent.Name,
		"calls", len(proposal.Calls),
		"rejected", len(proposal.Rejected),
	)

	return proposal, nil
}
