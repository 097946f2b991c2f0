package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"agent-trading-floor/internal/account"
	"agent-trading-floor/internal/interfaces"
	"agent-trading-floor/internal/logger"
	"agent-trading-floor/internal/trace"
	"agent-trading-floor/internal/types"
)

// Executor is the transactional unit for one buy/sell request. Validation
// happens in a fixed order and no state is touched until every check has
// passed; the final apply is atomic in the account store.
type Executor struct {
	validator interfaces.Validator
	prices    interfaces.PriceSource
	store     *account.Store
	spread    decimal.Decimal
}

func NewExecutor(validator interfaces.Validator, prices interfaces.PriceSource, store *account.Store, spread decimal.Decimal) *Executor {
	return &Executor{validator: validator, prices: prices, store: store, spread: spread}
}

// Execute runs the full pipeline: quantity check, instrument validation,
// price resolution, spread adjustment, then the atomic funds/holdings check
// and commit.
func (e *Executor) Execute(ctx context.Context, agentID, symbol string, side types.Side, qty int, rationale string) (types.Transaction, error) {
	ctx, span := trace.StartSpan(ctx, "executor.Execute")
	defer span.End()

	if qty <= 0 {
		return types.Transaction{}, fmt.Errorf("%w: %d", types.ErrInvalidQuantity, qty)
	}
	if side != types.Buy && side != types.Sell {
		return types.Transaction{}, fmt.Errorf("%w: side %q", types.ErrInvalidToolCall, side)
	}

	canonical, err := e.validator.Validate(ctx, symbol)
	if err != nil {
		return types.Transaction{}, err
	}

	quote, err := e.prices.Price(ctx, canonical, time.Now().UTC())
	if err != nil {
		return types.Transaction{}, err
	}

	price := e.executionPrice(quote.Price, side)

	txn, err := e.store.ApplyTrade(ctx, agentID, canonical, side, qty, price, rationale)
	if err != nil {
		return types.Transaction{}, err
	}

	logger.Trade(ctx, agentID, canonical, string(side), qty, price.String(), txn.ID,
		"total", txn.Total.String(), "cash_after", txn.CashAfter.String())
	return txn, nil
}

// executionPrice applies the configured spread: buys fill above the quote,
// sells below it.
func (e *Executor) executionPrice(quote decimal.Decimal, side types.Side) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == types.Buy {
		return quote.Mul(one.Add(e.spread))
	}
	return quote.Mul(one.Sub(e.spread))
}
