package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// AgentSpec identifies one autonomous trader for the lifetime of a session.
// Strategy is opaque prompt content; the core never parses it.
type AgentSpec struct {
	Name     string `yaml:"name" json:"name"`
	Model    string `yaml:"model" json:"model"`
	Strategy string `yaml:"strategy" json:"strategy"`
}

// Quote is one resolved price point. Stale is set when the value is a
// last-known price served because the upstream source was unavailable.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
	Stale  bool            `json:"stale,omitempty"`
}

// Transaction is the immutable record of one executed trade.
type Transaction struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	CashAfter decimal.Decimal `json:"cash_after"`
	Rationale string          `json:"rationale,omitempty"`
	At        time.Time       `json:"at"`
}

// AccountSnapshot is a read-only copy of committed account state.
type AccountSnapshot struct {
	AgentID      string          `json:"agent_id"`
	Cash         decimal.Decimal `json:"cash"`
	Holdings     map[string]int  `json:"holdings"`
	Transactions []Transaction   `json:"transactions"`
}

// Snapshot is one portfolio valuation point, append-only per agent.
type Snapshot struct {
	AgentID       string          `json:"agent_id"`
	At            time.Time       `json:"at"`
	Total         decimal.Decimal `json:"total"`
	Cash          decimal.Decimal `json:"cash"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	Stale         bool            `json:"stale,omitempty"`
}

// Candle is one OHLCV bucket folded from a snapshot series. Volume is the
// sum of absolute traded quantities inside the bucket.
type Candle struct {
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// RoundPhase values trace the round state machine for logging/audit.
type RoundPhase string

const (
	PhaseIdle             RoundPhase = "IDLE"
	PhaseContextGathered  RoundPhase = "CONTEXT_GATHERED"
	PhaseOracleConsulted  RoundPhase = "ORACLE_CONSULTED"
	PhaseToolCallsApplied RoundPhase = "TOOL_CALLS_APPLIED"
	PhaseSnapshotRecorded RoundPhase = "SNAPSHOT_RECORDED"
)

// RoundResult records the outcome of one full decision round for an agent.
type RoundResult struct {
	RoundID    string           `json:"round_id"`
	Agent      string           `json:"agent"`
	Started    time.Time        `json:"started"`
	Finished   time.Time        `json:"finished"`
	Reasoning  string           `json:"reasoning,omitempty"`
	Calls      []ToolCallResult `json:"calls"`
	TimedOut   bool             `json:"timed_out,omitempty"`
	Incomplete bool             `json:"incomplete,omitempty"`
	Snapshot   *Snapshot        `json:"snapshot,omitempty"`
}

// ToolCallResult is the validated outcome of one proposed tool call.
// ErrKind carries the taxonomy name for failed calls; failed calls never
// abort the round.
type ToolCallResult struct {
	Call    ToolCall `json:"call"`
	Output  string   `json:"output,omitempty"`
	ErrKind string   `json:"err_kind,omitempty"`
	ErrMsg  string   `json:"err_msg,omitempty"`
}
