// Package funds performs outbound value transfers from the escrow.
package funds

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/escrow/internal/models"
)

// Transferrer sends value out of the escrow.
type Transferrer interface {
	Transfer(ctx context.Context, to models.Address, amount decimal.Decimal) error
}

// Hook runs while a transfer to its address is in progress. It receives the
// transfer's context and may call back into the sender. A non-nil error
// fails the transfer.
type Hook func(ctx context.Context, amount decimal.Decimal) error

// Bank is an in-memory Transferrer that accumulates payouts per wallet.
type Bank struct {
	mu      sync.Mutex
	wallets map[models.Address]decimal.Decimal
	hooks   map[models.Address]Hook
}

var _ Transferrer = (*Bank)(nil)

// NewBank creates a bank with no wallets
func NewBank() *Bank {
	return &Bank{
		wallets: make(map[models.Address]decimal.Decimal),
		hooks:   make(map[models.Address]Hook),
	}
}

// SetHook installs the receive hook for addr. A nil hook removes it.
func (b *Bank) SetHook(addr models.Address, h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h == nil {
		delete(b.hooks, addr)
		return
	}
	b.hooks[addr] = h
}

// Transfer credits the wallet and then runs its hook. When the hook fails
// the credit is reverted. The bank lock is not held during the hook.
func (b *Bank) Transfer(ctx context.Context, to models.Address, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to.IsZero() {
		return fmt.Errorf("transfer to the zero address")
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}

	b.mu.Lock()
	b.wallets[to] = b.walletLocked(to).Add(amount)
	hook := b.hooks[to]
	b.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, amount); err != nil {
		b.mu.Lock()
		b.wallets[to] = b.walletLocked(to).Sub(amount)
		b.mu.Unlock()
		return fmt.Errorf("receiver rejected transfer: %w", err)
	}
	return nil
}

// Wallet returns the total received by addr
func (b *Bank) Wallet(addr models.Address) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.walletLocked(addr)
}

func (b *Bank) walletLocked(addr models.Address) decimal.Decimal {
	if w, ok := b.wallets[addr]; ok {
		return w
	}
	return decimal.Zero
}
