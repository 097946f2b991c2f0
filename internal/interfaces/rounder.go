package interfaces

import (
	"context"

	"agent-trading-floor/internal/types"
)

// Rounder drives one agent through a complete decision round.
type Rounder interface {
	RunRound(ctx context.Context, agent types.AgentSpec) (*types.RoundResult, error)
}
