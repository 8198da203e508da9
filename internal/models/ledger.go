package models

import (
	"errors"
	"math"
	"time"
)

// ErrAmountOverflow is returned when a sum of amounts leaves the int64 range.
var ErrAmountOverflow = errors.New("amount overflows int64")

// AddAmounts returns a+b, failing instead of wrapping.
func AddAmounts(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

const (
	EntryCredit = "CREDIT"
	EntryDebit  = "DEBIT"
)

// Ledger entry reasons.
const (
	ReasonRefund       = "REFUND"
	ReasonSaleProceeds = "SALE_PROCEEDS"
	ReasonRoyalty      = "ROYALTY"
	ReasonPlatformFee  = "PLATFORM_FEE"
	ReasonWithdrawal   = "WITHDRAWAL"
)

// LedgerEntry is one movement of a withdrawable balance. Credits come from
// refunds and sale payouts, the only debit is a withdrawal.
type LedgerEntry struct {
	ID        int64     `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Amount    int64     `json:"amount" db:"amount"`         // signed, smallest unit
	EntryType string    `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	Reason    string    `json:"reason" db:"reason"`
	Reference string    `json:"reference" db:"reference"`
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Account is an external wallet balance held by the payment gateway.
type Account struct {
	ID        string    `json:"id" db:"id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
