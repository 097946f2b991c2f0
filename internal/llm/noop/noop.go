package noop

import (
	"context"

	"agent-trading-floor/internal/logger"
	"agent-trading-floor/internal/types"
)

// Decider is a fallback oracle used when no LLM provider is configured.
// It never proposes any action.
type Decider struct{}

func NewDecider() *Decider {
	return &Decider{}
}

// Propose implements the Decider interface. It always returns an empty
// proposal.
func (d *Decider) Propose(ctx context.Context, req types.OracleRequest) (types.Proposal, error) {
	logger.Debug(ctx, "Noop decider called - proposing no action", "agent", req.Agent.Name)
	return types.Proposal{Reasoning: "noop_decider_fallback"}, nil
}
