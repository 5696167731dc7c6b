package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"sparkie/internal/domain"
)

// Account is a user's money account. Amounts are in minor units.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Balance  int64  `json:"balance_minor"`
}

// Transaction is one ledger line.
type Transaction struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      int64  `json:"amount_minor"`
}

// FinanceBackend gives read access to a user's accounts.
type FinanceBackend interface {
	Accounts(ctx context.Context, userID string) ([]Account, error)
	Transactions(ctx context.Context, userID, accountID string, limit int) ([]Transaction, error)
}

// MemoryLedger is an in-memory FinanceBackend.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string][]Account
	txns     map[string][]Transaction // userID -> newest last
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[string][]Account), txns: make(map[string][]Transaction)}
}

// Open adds an account for userID.
func (m *MemoryLedger) Open(userID string, acct Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[userID] = append(m.accounts[userID], acct)
}

// Record appends a transaction and adjusts the account balance.
func (m *MemoryLedger) Record(userID string, tx Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == "" {
		tx.ID = fmt.Sprintf("tx-%d", len(m.txns[userID])+1)
	}
	if tx.Date == "" {
		tx.Date = nowRFC3339()
	}
	m.txns[userID] = append(m.txns[userID], tx)
	for i := range m.accounts[userID] {
		if m.accounts[userID][i].ID == tx.AccountID {
			m.accounts[userID][i].Balance += tx.Amount
		}
	}
}

func (m *MemoryLedger) Accounts(_ context.Context, userID string) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Account(nil), m.accounts[userID]...), nil
}

func (m *MemoryLedger) Transactions(_ context.Context, userID, accountID string, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.txns[userID]
	var out []Transaction
	for i := len(all) - 1; i >= 0; i-- {
		if accountID == "" || all[i].AccountID == accountID {
			out = append(out, all[i])
		}
	}
	return limitSlice(out, limit), nil
}

// FinanceTool reads balances and transactions. Transfers and purchases are
// queued for approval.
type FinanceTool struct {
	backend FinanceBackend
	logger  *slog.Logger
	actions ActionMap[financeParams]
}

// NewFinanceTool creates a finance tool. A nil backend uses an empty MemoryLedger.
func NewFinanceTool(backend FinanceBackend, logger *slog.Logger) *FinanceTool {
	if backend == nil {
		backend = NewMemoryLedger()
	}
	t := &FinanceTool{backend: backend, logger: logger}
	t.actions = ActionMap[financeParams]{
		"balance":      t.handleBalance,
		"transactions": t.handleTransactions,
		"transfer":     refuse[financeParams]("transferring money"),
		"purchase":     refuse[financeParams]("making a purchase"),
	}
	return t
}

func (t *FinanceTool) Name() string { return "finance" }
func (t *FinanceTool) Description() string {
	return "Check account balances and recent transactions. Transfers and purchases wait for the user's approval."
}

func (t *FinanceTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(fmt.Sprintf(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": %s},
				"account_id": {"type": "string"},
				"to": {"type": "string", "description": "Destination account (transfer)"},
				"item": {"type": "string", "description": "What to buy (purchase)"},
				"amount": {"type": "number", "exclusiveMinimum": 0},
				"currency": {"type": "string"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 100}
			},
			"required": ["action"]
		}`, actionEnum(t.actions))),
	}
}

type financeParams struct {
	Action    string  `json:"action"`
	AccountID string  `json:"account_id,omitempty"`
	To        string  `json:"to,omitempty"`
	Item      string  `json:"item,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	Currency  string  `json:"currency,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

func (t *FinanceTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.finance", t.logger, params,
		Dispatch(func(p financeParams) string { return p.Action }, t.actions),
	)
}

func (t *FinanceTool) handleBalance(ctx context.Context, p financeParams) (any, error) {
	accts, err := t.backend.Accounts(ctx, domain.UserIDFromContext(ctx))
	if err != nil {
		return nil, err
	}
	if p.AccountID != "" {
		for _, a := range accts {
			if a.ID == p.AccountID {
				return a, nil
			}
		}
		return nil, fmt.Errorf("account %q not found", p.AccountID)
	}
	if len(accts) == 0 {
		return TextResult("No accounts are connected."), nil
	}
	return accts, nil
}

func (t *FinanceTool) handleTransactions(ctx context.Context, p financeParams) (any, error) {
	txns, err := t.backend.Transactions(ctx, domain.UserIDFromContext(ctx), p.AccountID, clampLimit(p.Limit, 10, 100))
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return TextResult("No transactions found."), nil
	}
	return txns, nil
}
