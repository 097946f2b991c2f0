package interfaces

import (
	"context"

	"agent-trading-floor/internal/types"
)

// Decider is the decision-oracle boundary: given round context it returns a
// proposal of zero or more tool calls plus reasoning text. Implementations
// must respect ctx cancellation; the caller enforces the round timeout.
type Decider interface {
	Propose(ctx context.Context, req types.OracleRequest) (types.Proposal, error)
}
