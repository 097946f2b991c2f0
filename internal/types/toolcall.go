package types

// ToolKind enumerates the closed menu of operations an agent may call.
// Dispatch is always over this tagged variant, never a dynamic name lookup.
type ToolKind string

const (
	ToolGetBalance       ToolKind = "get_balance"
	ToolGetHoldings      ToolKind = "get_holdings"
	ToolGetTransactions  ToolKind = "get_transactions"
	ToolExecuteTrade     ToolKind = "execute_trade"
	ToolSendNotification ToolKind = "send_notification"
)

// TradeArgs are the typed arguments of an execute_trade call.
type TradeArgs struct {
	Symbol    string `json:"symbol"`
	Side      Side   `json:"side"`
	Quantity  int    `json:"quantity"`
	Rationale string `json:"rationale,omitempty"`
}

// NotifyArgs are the typed arguments of a send_notification call.
type NotifyArgs struct {
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

// ToolCall is one proposed operation. Exactly the variant field matching
// Kind is populated; the gateway rejects anything else at decode time.
type ToolCall struct {
	Kind   ToolKind    `json:"tool"`
	Trade  *TradeArgs  `json:"trade,omitempty"`
	Notify *NotifyArgs `json:"notify,omitempty"`
}

// Proposal is what the decision oracle returns for one round: zero or more
// tool calls applied in order, plus free-text reasoning. Rejected carries
// calls that failed schema validation at decode; they are reported back to
// the agent as retryable hints, never applied.
type Proposal struct {
	Reasoning string           `json:"reasoning,omitempty"`
	Calls     []ToolCall       `json:"calls"`
	Rejected  []ToolCallResult `json:"rejected,omitempty"`
}

// OracleRequest is the context payload submitted to the decision oracle.
type OracleRequest struct {
	Agent      AgentSpec       `json:"agent"`
	Account    AccountSnapshot `json:"account"`
	ProfitLoss string          `json:"profit_loss"`
	Quotes     []Quote         `json:"quotes"`
	Headlines  []string        `json:"headlines,omitempty"`
	MarketOpen bool            `json:"market_open"`
	CallBudget int             `json:"call_budget"`
}
