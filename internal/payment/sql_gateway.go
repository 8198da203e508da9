package payment

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/galleryhq/marketplace/internal/models"
)

const (
	StatePending = "PENDING"
	StateSuccess = "SUCCESS"
	StateFailed  = "FAILED"
)

// SQLGateway keeps wallet balances in Postgres and moves attached payments
// between an account and the escrow account with double entries.
type SQLGateway struct {
	db            *sql.DB
	escrowAccount string
}

func NewSQLGateway(db *sql.DB, escrowAccount string) *SQLGateway {
	return &SQLGateway{
		db:            db,
		escrowAccount: escrowAccount,
	}
}

func (s *SQLGateway) Charge(ctx context.Context, from string, amount int64, ref string) error {
	return s.Transfer(ctx, from, s.escrowAccount, ref, amount)
}

func (s *SQLGateway) Payout(ctx context.Context, to string, amount int64, ref string) error {
	return s.Transfer(ctx, s.escrowAccount, to, ref, amount)
}

func (s *SQLGateway) Transfer(ctx context.Context, fromAccountID, toAccountID, transactionID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.appendPaymentState(ctx, tx, transactionID, StatePending); err != nil {
		return err
	}

	if err := s.TransferTx(ctx, tx, fromAccountID, toAccountID, transactionID, amount); err != nil {
		return err
	}

	if err := s.appendPaymentState(ctx, tx, transactionID, StateSuccess); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLGateway) TransferTx(ctx context.Context, tx *sql.Tx, fromAccountID, toAccountID, transactionID string, amount int64) error {
	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := fromAccountID, toAccountID
	if fromAccountID > toAccountID {
		firstLock, secondLock = toAccountID, fromAccountID
	}

	fromAccount, err := s.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", firstLock, err)
	}

	toAccount, err := s.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", secondLock, err)
	}

	if firstLock != fromAccountID {
		fromAccount, toAccount = toAccount, fromAccount
	}

	if fromAccount.Balance < amount {
		return ErrInsufficientFunds
	}

	credited, err := models.AddAmounts(toAccount.Balance, amount)
	if err != nil {
		return fmt.Errorf("credit account %s: %w", toAccount.ID, err)
	}

	if err := s.createLedgerEntry(ctx, tx, transactionID, fromAccount.ID, -amount, models.EntryDebit, fromAccount.Balance-amount); err != nil {
		return err
	}

	if err := s.createLedgerEntry(ctx, tx, transactionID, toAccount.ID, amount, models.EntryCredit, credited); err != nil {
		return err
	}

	if err := s.updateAccountBalance(ctx, tx, fromAccount.ID, fromAccount.Balance-amount, fromAccount.Version); err != nil {
		return err
	}

	return s.updateAccountBalance(ctx, tx, toAccount.ID, credited, toAccount.Version)
}

// Balance returns the wallet balance of an account.
func (s *SQLGateway) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM wallet_accounts WHERE id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func (s *SQLGateway) appendPaymentState(ctx context.Context, tx *sql.Tx, transactionID, state string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_states (transaction_id, state, created_at)
		VALUES ($1, $2, $3)`,
		transactionID, state, time.Now())
	return err
}

func (s *SQLGateway) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, balance, version, updated_at
		FROM wallet_accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Balance, &account.Version, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return s.openAccount(ctx, tx, accountID)
	}
	return &account, err
}

// openAccount creates an empty wallet the first time an account receives funds.
func (s *SQLGateway) openAccount(ctx context.Context, tx *sql.Tx, accountID string) (*models.Account, error) {
	now := time.Now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (id, balance, version, updated_at)
		VALUES ($1, 0, 1, $2)`, accountID, now)
	if err != nil {
		return nil, err
	}
	return &models.Account{ID: accountID, Version: 1, UpdatedAt: now}, nil
}

func (s *SQLGateway) createLedgerEntry(ctx context.Context, tx *sql.Tx, transactionID, accountID string, amount int64, entryType string, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_entries (transaction_id, account_id, amount, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		transactionID, accountID, amount, entryType, balance, time.Now())
	return err
}

func (s *SQLGateway) updateAccountBalance(ctx context.Context, tx *sql.Tx, accountID string, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE wallet_accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}

	return nil
}

// Schema creates the wallet tables used by SQLGateway.
const Schema = `
CREATE TABLE IF NOT EXISTS wallet_accounts (
	id         TEXT PRIMARY KEY,
	balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS wallet_entries (
	id             BIGSERIAL PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	account_id     TEXT NOT NULL REFERENCES wallet_accounts (id),
	amount         BIGINT NOT NULL,
	entry_type     TEXT NOT NULL,
	balance        BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_states (
	id             BIGSERIAL PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	state          TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
`
