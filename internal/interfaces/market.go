package interfaces

import (
	"context"
	"time"

	"agent-trading-floor/internal/types"
)

// PriceSource resolves (symbol, asOf) to a quote. It fails with
// types.ErrPriceUnavailable rather than returning a silently wrong price.
type PriceSource interface {
	Price(ctx context.Context, symbol string, asOf time.Time) (types.Quote, error)

	// LastKnown returns the most recent quote ever resolved for symbol,
	// flagged stale. Used only by the snapshot engine when the upstream
	// source is down.
	LastKnown(symbol string) (types.Quote, bool)
}

// Validator checks an instrument symbol against market naming rules and
// returns the canonical form, or types.ErrInvalidInstrument.
type Validator interface {
	Validate(ctx context.Context, symbol string) (string, error)
}
