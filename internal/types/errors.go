package types

import "errors"

// Error taxonomy. Every failure surfaced to a round is wrapped around one of
// these sentinels so log entries can be tagged with a stable kind.
var (
	ErrInvalidInstrument    = errors.New("invalid instrument")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInvalidToolCall      = errors.New("invalid tool call")
	ErrOracleTimeout        = errors.New("oracle timeout")
	ErrCallBudgetExceeded   = errors.New("tool call budget exceeded")

	// ErrStoreContention is not expected to surface while per-account
	// serialization holds.
	ErrStoreContention = errors.New("store contention")

	// ErrStoreIntegrity marks a partially applied store write (memory
	// committed, durable state not). Fatal for the round that hit it.
	ErrStoreIntegrity = errors.New("store integrity")
)

// ErrKind maps an error to its taxonomy name, or "Internal" when the error
// is outside the taxonomy.
func ErrKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInstrument):
		return "InvalidInstrument"
	case errors.Is(err, ErrPriceUnavailable):
		return "PriceUnavailable"
	case errors.Is(err, ErrInvalidQuantity):
		return "InvalidQuantity"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrInsufficientHoldings):
		return "InsufficientHoldings"
	case errors.Is(err, ErrInvalidToolCall):
		return "InvalidToolCall"
	case errors.Is(err, ErrOracleTimeout):
		return "OracleTimeout"
	case errors.Is(err, ErrCallBudgetExceeded):
		return "CallBudgetExceeded"
	case errors.Is(err, ErrStoreContention):
		return "StoreContention"
	case errors.Is(err, ErrStoreIntegrity):
		return "StoreIntegrity"
	default:
		return "Internal"
	}
}
