// Package tools is the validated, typed surface between the decision oracle
// and account mutations. Tool calls are a closed tagged variant decoded at
// this boundary; dispatch never goes through an open-ended name lookup.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agent-trading-floor/internal/account"
	"agent-trading-floor/internal/interfaces"
	"agent-trading-floor/internal/logger"
	"agent-trading-floor/internal/types"
)

// TradeExecutor is the transactional unit behind execute_trade calls.
type TradeExecutor interface {
	Execute(ctx context.Context, agentID, symbol string, side types.Side, qty int, rationale string) (types.Transaction, error)
}

// Gateway dispatches validated tool calls for one agent's rounds.
type Gateway struct {
	store    *account.Store
	executor TradeExecutor
	notifier interfaces.Notifier
	budget   int

	// history returned by get_transactions is capped so the oracle context
	// stays bounded.
	historyLimit int
}

func NewGateway(store *account.Store, executor TradeExecutor, notifier interfaces.Notifier, budget int) *Gateway {
	return &Gateway{
		store:        store,
		executor:     executor,
		notifier:     notifier,
		budget:       budget,
		historyLimit: 50,
	}
}

// Budget returns the per-round call budget.
func (g *Gateway) Budget() int { return g.budget }

// Apply runs proposed calls in submitted order. A failed call is recorded
// and the remaining calls still run; earlier successful calls are never
// rolled back. Calls beyond the budget or after ctx cancellation are
// dropped with an error result. A store-integrity failure is the one
// exception: it stops the application immediately so no further mutation
// runs against an account whose durable state is in doubt.
func (g *Gateway) Apply(ctx context.Context, agentID string, calls []types.ToolCall, tradingAllowed bool) []types.ToolCallResult {
	results := make([]types.ToolCallResult, 0, len(calls))
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			// Round cancelled: committed calls stand, the rest are dropped.
			break
		}
		if i >= g.budget {
			results = append(results, failedResult(call, fmt.Errorf("%w: budget %d", types.ErrCallBudgetExceeded, g.budget)))
			continue
		}
		r := g.dispatch(ctx, agentID, call, tradingAllowed)
		results = append(results, r)
		if r.ErrKind == types.ErrKind(types.ErrStoreIntegrity) {
			break
		}
	}
	return results
}

func (g *Gateway) dispatch(ctx context.Context, agentID string, call types.ToolCall, tradingAllowed bool) types.ToolCallResult {
	switch call.Kind {
	case types.ToolGetBalance:
		snap, err := g.store.Get(agentID)
		if err != nil {
			return failedResult(call, err)
		}
		return okResult(call, fmt.Sprintf(`{"cash":%q}`, snap.Cash.String()))

	case types.ToolGetHoldings:
		snap, err := g.store.Get(agentID)
		if err != nil {
			return failedResult(call, err)
		}
		b, _ := json.Marshal(snap.Holdings)
		return okResult(call, string(b))

	case types.ToolGetTransactions:
		snap, err := g.store.Get(agentID)
		if err != nil {
			return failedResult(call, err)
		}
		txns := snap.Transactions
		if len(txns) > g.historyLimit {
			txns = txns[len(txns)-g.historyLimit:]
		}
		b, _ := json.Marshal(txns)
		return okResult(call, string(b))

	case types.ToolExecuteTrade:
		if call.Trade == nil {
			return failedResult(call, fmt.Errorf("%w: missing trade arguments", types.ErrInvalidToolCall))
		}
		if !tradingAllowed {
			return failedResult(call, fmt.Errorf("%w: market closed, trading tools withheld", types.ErrInvalidToolCall))
		}
		txn, err := g.executor.Execute(ctx, agentID, call.Trade.Symbol, call.Trade.Side, call.Trade.Quantity, call.Trade.Rationale)
		if err != nil {
			return failedResult(call, err)
		}
		b, _ := json.Marshal(txn)
		return okResult(call, string(b))

	case types.ToolSendNotification:
		if call.Notify == nil {
			return failedResult(call, fmt.Errorf("%w: missing notify arguments", types.ErrInvalidToolCall))
		}
		g.notifier.Send(ctx, call.Notify.Message, call.Notify.Severity)
		return okResult(call, "sent")

	default:
		return failedResult(call, fmt.Errorf("%w: unknown tool %q", types.ErrInvalidToolCall, call.Kind))
	}
}

func okResult(call types.ToolCall, output string) types.ToolCallResult {
	return types.ToolCallResult{Call: call, Output: output}
}

func failedResult(call types.ToolCall, err error) types.ToolCallResult {
	return types.ToolCallResult{Call: call, ErrKind: types.ErrKind(err), ErrMsg: err.Error()}
}

// wireProposal is the JSON shape the oracle is asked to emit.
type wireProposal struct {
	Reasoning string     `json:"reasoning"`
	Calls     []wireCall `json:"calls"`
}

type wireCall struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// DecodeProposal parses raw oracle output into the closed variant type.
// Each call is validated independently: malformed entries come back as
// failed results (a retryable hint for the next round) while well-formed
// ones still run. A payload that is not valid JSON at all yields an empty
// proposal and a single InvalidToolCall result.
func DecodeProposal(raw []byte) (types.Proposal, []types.ToolCallResult) {
	var wp wireProposal
	if err := json.Unmarshal(raw, &wp); err != nil {
		bad := failedResult(types.ToolCall{}, fmt.Errorf("%w: unparseable oracle output", types.ErrInvalidToolCall))
		return types.Proposal{}, []types.ToolCallResult{bad}
	}

	p := types.Proposal{Reasoning: strings.TrimSpace(wp.Reasoning)}
	var rejected []types.ToolCallResult
	for _, wc := range wp.Calls {
		call, err := decodeCall(wc)
		if err != nil {
			rejected = append(rejected, failedResult(types.ToolCall{Kind: types.ToolKind(wc.Tool)}, err))
			continue
		}
		p.Calls = append(p.Calls, call)
	}
	return p, rejected
}

func decodeCall(wc wireCall) (types.ToolCall, error) {
	kind := types.ToolKind(strings.ToLower(strings.TrimSpace(wc.Tool)))
	switch kind {
	case types.ToolGetBalance, types.ToolGetHoldings, types.ToolGetTransactions:
		return types.ToolCall{Kind: kind}, nil

	case types.ToolExecuteTrade:
		var args types.TradeArgs
		if err := strictUnmarshal(wc.Args, &args); err != nil {
			return types.ToolCall{}, fmt.Errorf("%w: execute_trade args: %v", types.ErrInvalidToolCall, err)
		}
		args.Side = types.Side(strings.ToUpper(string(args.Side)))
		if args.Symbol == "" {
			return types.ToolCall{}, fmt.Errorf("%w: execute_trade missing symbol", types.ErrInvalidToolCall)
		}
		if args.Side != types.Buy && args.Side != types.Sell {
			return types.ToolCall{}, fmt.Errorf("%w: execute_trade side %q", types.ErrInvalidToolCall, args.Side)
		}
		if args.Quantity <= 0 {
			return types.ToolCall{}, fmt.Errorf("%w: execute_trade quantity %d", types.ErrInvalidQuantity, args.Quantity)
		}
		return types.ToolCall{Kind: kind, Trade: &args}, nil

	case types.ToolSendNotification:
		var args types.NotifyArgs
		if err := strictUnmarshal(wc.Args, &args); err != nil {
			return types.ToolCall{}, fmt.Errorf("%w: send_notification args: %v", types.ErrInvalidToolCall, err)
		}
		if args.Message == "" {
			return types.ToolCall{}, fmt.Errorf("%w: send_notification missing message", types.ErrInvalidToolCall)
		}
		return types.ToolCall{Kind: kind, Notify: &args}, nil

	default:
		return types.ToolCall{}, fmt.Errorf("%w: unknown tool %q", types.ErrInvalidToolCall, wc.Tool)
	}
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing args")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// MenuJSON describes the callable tool menu for the oracle prompt. When the
// market is closed the trading tool is withheld.
func MenuJSON(tradingAllowed bool) string {
	menu := []map[string]string{
		{"tool": string(types.ToolGetBalance), "args": "none", "desc": "current cash balance"},
		{"tool": string(types.ToolGetHoldings), "args": "none", "desc": "current holdings, symbol to quantity"},
		{"tool": string(types.ToolGetTransactions), "args": "none", "desc": "recent executed trades"},
		{"tool": string(types.ToolSendNotification), "args": `{"message": string, "severity": string}`, "desc": "push an alert"},
	}
	if tradingAllowed {
		menu = append(menu, map[string]string{
			"tool": string(types.ToolExecuteTrade),
			"args": `{"symbol": string, "side": "BUY"|"SELL", "quantity": int, "rationale": string}`,
			"desc": "execute one trade against your account",
		})
	}
	b, _ := json.Marshal(menu)
	return string(b)
}

// LogRejected records decode-time rejections so no error is swallowed.
func LogRejected(ctx context.Context, agentID string, rejected []types.ToolCallResult) {
	for _, r := range rejected {
		logger.Warn(ctx, "Tool call rejected at decode", "agent", agentID, "tool", string(r.Call.Kind), "err_kind", r.ErrKind, "error", r.ErrMsg)
	}
}
