package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"agent-trading-floor/internal/logger"
	"agent-trading-floor/internal/types"
)

// state is the committed state of one account. Its mutex serializes every
// mutation: at most one in-flight change per account, and unrelated
// accounts never contend.
type state struct {
	mu       sync.Mutex
	cash     decimal.Decimal
	holdings map[string]int
	txns     []types.Transaction
}

// Store is the single source of truth for account state. Balances are exact
// decimal arithmetic; no floating point touches money.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*state

	dataDir string
	initial decimal.Decimal
}

func NewStore(dataDir string, initialBalance decimal.Decimal) (*Store, error) {
	for _, d := range []string{accountsDir(dataDir), txnsDir(dataDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &Store{
		accounts: make(map[string]*state),
		dataDir:  dataDir,
		initial:  initialBalance,
	}, nil
}

func accountsDir(dataDir string) string { return filepath.Join(dataDir, "accounts") }
func txnsDir(dataDir string) string     { return filepath.Join(dataDir, "transactions") }

// persistedAccount is the on-disk shape of an account, readable by the
// dashboard layer.
type persistedAccount struct {
	AgentID  string         `json:"agent_id"`
	Cash     string         `json:"cash"`
	Holdings map[string]int `json:"holdings"`
	SavedAt  time.Time      `json:"saved_at"`
}

// Open loads or creates the account for agentID. Called once per agent at
// session start.
func (s *Store) Open(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[agentID]; ok {
		return nil
	}

	st := &state{cash: s.initial, holdings: map[string]int{}}

	path := filepath.Join(accountsDir(s.dataDir), agentID+".json")
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		var pa persistedAccount
		if err := json.Unmarshal(b, &pa); err != nil {
			return fmt.Errorf("corrupt account file %s: %w", path, err)
		}
		cash, err := decimal.NewFromString(pa.Cash)
		if err != nil {
			return fmt.Errorf("corrupt cash in %s: %w", path, err)
		}
		st.cash = cash
		if pa.Holdings != nil {
			st.holdings = pa.Holdings
		}
		txns, err := loadTransactions(filepath.Join(txnsDir(s.dataDir), agentID+".jsonl"))
		if err != nil {
			return err
		}
		st.txns = txns
		logger.Info(ctx, "Account loaded", "agent", agentID, "cash", st.cash.String(), "holdings", len(st.holdings), "txns", len(st.txns))
	case os.IsNotExist(err):
		// Only a confirmed missing file means a new account. Any other read
		// failure must not reset a traded account to the initial balance.
		if err := s.persistLocked(agentID, st); err != nil {
			return err
		}
		logger.Info(ctx, "Account created", "agent", agentID, "cash", st.cash.String())
	default:
		return fmt.Errorf("read account file %s: %w", path, err)
	}

	s.accounts[agentID] = st
	return nil
}

func loadTransactions(path string) ([]types.Transaction, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var txns []types.Transaction
	dec := json.NewDecoder(bytes.NewReader(b))
	for dec.More() {
		var t types.Transaction
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("corrupt transaction log %s: %w", path, err)
		}
		txns = append(txns, t)
	}
	return txns, nil
}

func (s *Store) get(agentID string) (*state, error) {
	s.mu.RLock()
	st, ok := s.accounts[agentID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown account %q", agentID)
	}
	return st, nil
}

// Get returns a read-only deep copy of committed state.
func (s *Store) Get(agentID string) (types.AccountSnapshot, error) {
	st, err := s.get(agentID)
	if err != nil {
		return types.AccountSnapshot{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return snapshotLocked(agentID, st), nil
}

func snapshotLocked(agentID string, st *state) types.AccountSnapshot {
	holdings := make(map[string]int, len(st.holdings))
	for k, v := range st.holdings {
		holdings[k] = v
	}
	txns := make([]types.Transaction, len(st.txns))
	copy(txns, st.txns)
	return types.AccountSnapshot{
		AgentID:      agentID,
		Cash:         st.cash,
		Holdings:     holdings,
		Transactions: txns,
	}
}

// ApplyTrade validates and commits one trade atomically: funds/holdings are
// checked and the delta applied under the account lock, and the transaction
// record appended. On any validation failure nothing changes.
func (s *Store) ApplyTrade(ctx context.Context, agentID, symbol string, side types.Side, qty int, price decimal.Decimal, rationale string) (types.Transaction, error) {
	st, err := s.get(agentID)
	if err != nil {
		return types.Transaction{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	total := price.Mul(decimal.NewFromInt(int64(qty)))

	switch side {
	case types.Buy:
		if total.GreaterThan(st.cash) {
			return types.Transaction{}, fmt.Errorf("%w: cost %s exceeds cash %s",
				types.ErrInsufficientFunds, total.String(), st.cash.String())
		}
	case types.Sell:
		if qty > st.holdings[symbol] {
			return types.Transaction{}, fmt.Errorf("%w: selling %d of %s, holding %d",
				types.ErrInsufficientHoldings, qty, symbol, st.holdings[symbol])
		}
	default:
		return types.Transaction{}, fmt.Errorf("%w: side %q", types.ErrInvalidToolCall, side)
	}

	if side == types.Buy {
		st.cash = st.cash.Sub(total)
		st.holdings[symbol] += qty
	} else {
		st.cash = st.cash.Add(total)
		st.holdings[symbol] -= qty
		if st.holdings[symbol] == 0 {
			delete(st.holdings, symbol)
		}
	}

	txn := types.Transaction{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		Price:     price,
		Total:     total,
		CashAfter: st.cash,
		Rationale: rationale,
		At:        time.Now().UTC(),
	}
	st.txns = append(st.txns, txn)

	if err := s.persistLocked(agentID, st); err != nil {
		// Memory is committed but durable state is not. The caller must
		// surface this as a failed round.
		logger.ErrorWithErr(ctx, "Account persist failed after trade", err, "agent", agentID, "txn_id", txn.ID)
		return txn, fmt.Errorf("%w: persist account %s: %v", types.ErrStoreIntegrity, agentID, err)
	}
	if err := s.appendTxn(agentID, txn); err != nil {
		logger.ErrorWithErr(ctx, "Transaction append failed", err, "agent", agentID, "txn_id", txn.ID)
		return txn, fmt.Errorf("%w: append transaction %s: %v", types.ErrStoreIntegrity, agentID, err)
	}
	return txn, nil
}

// Deposit adds funds to the account. Amount must be positive.
func (s *Store) Deposit(ctx context.Context, agentID string, amount decimal.Decimal) (types.AccountSnapshot, error) {
	return s.adjustCash(ctx, agentID, amount, true)
}

// Withdraw removes funds, never letting the balance go negative.
func (s *Store) Withdraw(ctx context.Context, agentID string, amount decimal.Decimal) (types.AccountSnapshot, error) {
	return s.adjustCash(ctx, agentID, amount, false)
}

func (s *Store) adjustCash(ctx context.Context, agentID string, amount decimal.Decimal, deposit bool) (types.AccountSnapshot, error) {
	if !amount.IsPositive() {
		return types.AccountSnapshot{}, fmt.Errorf("%w: amount must be positive", types.ErrInvalidQuantity)
	}
	st, err := s.get(agentID)
	if err != nil {
		return types.AccountSnapshot{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if deposit {
		st.cash = st.cash.Add(amount)
	} else {
		if amount.GreaterThan(st.cash) {
			return types.AccountSnapshot{}, fmt.Errorf("%w: withdrawal %s exceeds cash %s",
				types.ErrInsufficientFunds, amount.String(), st.cash.String())
		}
		st.cash = st.cash.Sub(amount)
	}
	if err := s.persistLocked(agentID, st); err != nil {
		return types.AccountSnapshot{}, fmt.Errorf("%w: persist account %s: %v", types.ErrStoreIntegrity, agentID, err)
	}
	return snapshotLocked(agentID, st), nil
}

// ProfitLoss reports total P&L relative to the initial balance given current
// holding values.
func (s *Store) ProfitLoss(agentID string, holdingsValue decimal.Decimal) (decimal.Decimal, error) {
	st, err := s.get(agentID)
	if err != nil {
		return decimal.Zero, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cash.Add(holdingsValue).Sub(s.initial), nil
}

// Agents lists known account ids, sorted for stable iteration.
func (s *Store) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) persistLocked(agentID string, st *state) error {
	pa := persistedAccount{
		AgentID:  agentID,
		Cash:     st.cash.String(),
		Holdings: st.holdings,
		SavedAt:  time.Now().UTC(),
	}
	b, err := json.MarshalIndent(pa, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(accountsDir(s.dataDir), agentID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) appendTxn(agentID string, txn types.Transaction) error {
	path := filepath.Join(txnsDir(s.dataDir), agentID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(txn)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}
