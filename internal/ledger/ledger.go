// Package ledger provides an in-memory payment ledger implementing the
// standard balance/allowance semantics the engines consume. Production
// deployments point the engines at an external ledger; this implementation
// backs local wiring and tests.
package ledger

import (
	"fmt"
	"sync"

	"github.com/galleria-labs/galleria/internal/domain"
)

// Ledger is a thread-safe in-memory balance/allowance table.
type Ledger struct {
	mu         sync.Mutex
	balances   map[domain.Account]int64
	allowances map[domain.Account]map[domain.Account]int64 // owner -> spender -> amount
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[domain.Account]int64),
		allowances: make(map[domain.Account]map[domain.Account]int64),
	}
}

// Issue credits freshly issued funds to an account. Test and bootstrap only.
func (l *Ledger) Issue(account domain.Account, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

// BalanceOf returns the current balance of an account.
func (l *Ledger) BalanceOf(account domain.Account) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// Approve sets the amount spender may move out of owner's balance.
func (l *Ledger) Approve(owner, spender domain.Account, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[domain.Account]int64)
		l.allowances[owner] = m
	}
	m[spender] = amount
	return nil
}

// Allowance returns the remaining amount spender may move from owner.
func (l *Ledger) Allowance(owner, spender domain.Account) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[owner][spender]
}

// Transfer moves funds the caller already controls. It fails without any
// state change when from holds less than amount.
func (l *Ledger) Transfer(from, to domain.Account, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return fmt.Errorf("ledger: transfer %d from %s: %w", amount, from.Hex(), domain.ErrInsufficientFunds)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// TransferFrom moves owner funds on behalf of spender, consuming allowance.
// Balance and allowance are checked before any mutation so a failure leaves
// the ledger untouched.
func (l *Ledger) TransferFrom(spender, owner, to domain.Account, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner][spender] < amount {
		return fmt.Errorf("ledger: transferFrom %d of %s by %s: %w",
			amount, owner.Hex(), spender.Hex(), domain.ErrInsufficientAllowance)
	}
	if l.balances[owner] < amount {
		return fmt.Errorf("ledger: transferFrom %d of %s: %w", amount, owner.Hex(), domain.ErrInsufficientFunds)
	}
	l.allowances[owner][spender] -= amount
	l.balances[owner] -= amount
	l.balances[to] += amount
	return nil
}

var _ domain.PaymentLedger = (*Ledger)(nil)
