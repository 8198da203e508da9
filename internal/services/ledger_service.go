package services

import (
	"context"
	"fmt"

	"github.com/galleryhq/marketplace/internal/audit"
	"github.com/galleryhq/marketplace/internal/events"
	"github.com/galleryhq/marketplace/internal/models"
	"github.com/galleryhq/marketplace/internal/store"
	"go.uber.org/zap"
)

// LedgerService owns the pull-payment balances. Engines credit it inside
// their own transaction; accounts empty it with Withdraw.
type LedgerService struct {
	Deps
}

func NewLedgerService(d Deps) *LedgerService {
	return &LedgerService{Deps: d.withDefaults()}
}

func (s *LedgerService) credit(ctx context.Context, tx store.Tx, account string, amount int64, reason, ref string) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return fmt.Errorf("credit %s: negative amount %d", account, amount)
	}
	entry := &models.LedgerEntry{
		AccountID: account,
		Amount:    amount,
		EntryType: models.EntryCredit,
		Reason:    reason,
		Reference: ref,
		CreatedAt: s.Now().UTC(),
	}
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}

// Withdraw pays out the caller's whole balance. The balance is zeroed in the
// same transaction before the payout; a failed payout rolls the zeroing back.
func (s *LedgerService) Withdraw(ctx context.Context, caller string) (int64, error) {
	ref := newReference("withdrawal", caller)
	var amount int64

	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		balance, err := tx.Balance(ctx, caller)
		if err != nil {
			return err
		}
		if balance == 0 {
			return ErrNothingToWithdraw
		}

		err = tx.AppendEntry(ctx, &models.LedgerEntry{
			AccountID: caller,
			Amount:    -balance,
			EntryType: models.EntryDebit,
			Reason:    models.ReasonWithdrawal,
			Reference: ref,
			CreatedAt: s.Now().UTC(),
		})
		if err != nil {
			return err
		}

		if err := s.Payments.Payout(ctx, caller, balance, ref); err != nil {
			s.Audit.LogError(ref, caller, err)
			return transferFailed(err)
		}
		amount = balance
		return nil
	})
	if err != nil {
		if amount > 0 {
			// The payout went out but the debit did not commit.
			s.Audit.LogError(ref, caller, fmt.Errorf("withdrawal of %d paid but not recorded: %w", amount, err))
		}
		return 0, err
	}

	s.Audit.LogTransfer(ref, "escrow", caller, amount, audit.StatusSuccess)
	s.publish(ctx, events.Event{Type: events.Withdrawal, Account: caller, Amount: amount})
	s.Logger.Info("Withdrawal completed", zap.String("account", caller), zap.Int64("amount", amount))
	return amount, nil
}

func (s *LedgerService) Balance(ctx context.Context, account string) (int64, error) {
	return s.Store.Balance(ctx, account)
}

func (s *LedgerService) Entries(ctx context.Context, account string, limit int) ([]models.LedgerEntry, error) {
	return s.Store.LedgerEntries(ctx, account, limit)
}
