// Package payment moves funds attached to marketplace calls in and out of
// escrow.
package payment

import (
	"context"
	"errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// Gateway is the escrow side of a payable call. Charge debits the payer into
// escrow; Payout releases escrowed funds to an account.
type Gateway interface {
	Charge(ctx context.Context, from string, amount int64, ref string) error
	Payout(ctx context.Context, to string, amount int64, ref string) error
}
