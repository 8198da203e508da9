package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/galleryhq/marketplace/internal/models"
)

// Wallets is an in-memory Gateway holding one balance per account plus the
// escrow pool.
type Wallets struct {
	mu       sync.Mutex
	balances map[string]int64
	escrow   int64
}

func NewWallets() *Wallets {
	return &Wallets{balances: make(map[string]int64)}
}

func (w *Wallets) Deposit(account string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	balance, err := models.AddAmounts(w.balances[account], amount)
	if err != nil {
		return err
	}
	w.balances[account] = balance
	return nil
}

func (w *Wallets) Balance(account string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[account]
}

// Escrowed returns funds charged but not yet paid out.
func (w *Wallets) Escrowed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.escrow
}

func (w *Wallets) Charge(_ context.Context, from string, amount int64, ref string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[from] < amount {
		return fmt.Errorf("charge %s: %w", ref, ErrInsufficientFunds)
	}
	escrow, err := models.AddAmounts(w.escrow, amount)
	if err != nil {
		return fmt.Errorf("charge %s: escrow %w", ref, err)
	}
	w.balances[from] -= amount
	w.escrow = escrow
	return nil
}

func (w *Wallets) Payout(_ context.Context, to string, amount int64, ref string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.escrow < amount {
		return fmt.Errorf("payout %s: escrow %w", ref, ErrInsufficientFunds)
	}
	balance, err := models.AddAmounts(w.balances[to], amount)
	if err != nil {
		return fmt.Errorf("payout %s: %w", ref, err)
	}
	w.escrow -= amount
	w.balances[to] = balance
	return nil
}
