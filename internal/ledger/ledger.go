// Package ledger keeps the per-account withdrawable balances. Funds only
// ever leave the escrow by draining an entry of this ledger.
package ledger

import (
	"github.com/shopspring/decimal"
	"github.com/xtrntr/escrow/internal/models"
)

// Ledger maps accounts to withdrawable amounts. It is not safe for
// concurrent use; the owning engine serializes access.
type Ledger struct {
	balances map[models.Address]decimal.Decimal
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{balances: make(map[models.Address]decimal.Decimal)}
}

// Credit adds amount to the account's balance. Non-positive amounts are ignored.
func (l *Ledger) Credit(account models.Address, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.balances[account] = l.Balance(account).Add(amount)
}

// Balance returns the account's withdrawable amount
func (l *Ledger) Balance(account models.Address) decimal.Decimal {
	if b, ok := l.balances[account]; ok {
		return b
	}
	return decimal.Zero
}

// Drain returns the account's balance and sets it to zero in the same step.
func (l *Ledger) Drain(account models.Address) decimal.Decimal {
	amount := l.Balance(account)
	delete(l.balances, account)
	return amount
}

// Total returns the sum of all balances
func (l *Ledger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, b := range l.balances {
		total = total.Add(b)
	}
	return total
}
