package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/galleryhq/marketplace/internal/models"
)

// Schema creates the marketplace tables.
const Schema = `
CREATE TABLE IF NOT EXISTS listings (
	collection TEXT NOT NULL,
	token_id   BIGINT NOT NULL,
	seller     TEXT NOT NULL,
	price      BIGINT NOT NULL CHECK (price > 0),
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (collection, token_id)
);

CREATE TABLE IF NOT EXISTS auctions (
	id             BIGINT PRIMARY KEY,
	seller         TEXT NOT NULL,
	collection     TEXT NOT NULL,
	token_id       BIGINT NOT NULL,
	start_price    BIGINT NOT NULL,
	end_time       TIMESTAMPTZ NOT NULL,
	highest_bid    BIGINT NOT NULL DEFAULT 0,
	highest_bidder TEXT NOT NULL DEFAULT '',
	settled        BOOLEAN NOT NULL DEFAULT FALSE,
	cancelled      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS auctions_unsettled_end_time ON auctions (end_time) WHERE NOT settled;

CREATE TABLE IF NOT EXISTS auction_counter (
	id    INTEGER PRIMARY KEY,
	value BIGINT NOT NULL
);

INSERT INTO auction_counter (id, value) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS balances (
	account_id TEXT PRIMARY KEY,
	balance    BIGINT NOT NULL CHECK (balance >= 0),
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id         BIGSERIAL PRIMARY KEY,
	account_id TEXT NOT NULL,
	amount     BIGINT NOT NULL,
	entry_type TEXT NOT NULL,
	reason     TEXT NOT NULL,
	reference  TEXT NOT NULL,
	balance    BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ledger_entries_account ON ledger_entries (account_id, id DESC);
`

const auctionColumns = `id, seller, collection, token_id, start_price, end_time, highest_bid, highest_bidder, settled, cancelled, created_at`

// Postgres is a Store backed by database/sql. Writers serialise on row locks.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, Schema)
	return err
}

func (p *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *Postgres) Listing(ctx context.Context, collection string, tokenID uint64) (*models.Listing, error) {
	return getListing(ctx, p.db, collection, tokenID, "")
}

func (p *Postgres) Auction(ctx context.Context, id uint64) (*models.Auction, error) {
	return getAuction(ctx, p.db, id, "")
}

func (p *Postgres) AuctionCounter(ctx context.Context) (uint64, error) {
	var value int64
	err := p.db.QueryRowContext(ctx, `SELECT value FROM auction_counter WHERE id = 1`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return uint64(value), err
}

func (p *Postgres) Balance(ctx context.Context, account string) (int64, error) {
	return getBalance(ctx, p.db, account, "")
}

func (p *Postgres) LedgerEntries(ctx context.Context, account string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, amount, entry_type, reason, reference, balance, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.EntryType, &e.Reason, &e.Reference, &e.Balance, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) ExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+auctionColumns+`
		FROM auctions
		WHERE NOT settled AND end_time <= $1
		ORDER BY id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	auctions := []models.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Listing(ctx context.Context, collection string, tokenID uint64) (*models.Listing, error) {
	return getListing(ctx, t.tx, collection, tokenID, " FOR UPDATE")
}

func (t *pgTx) PutListing(ctx context.Context, l *models.Listing) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO listings (collection, token_id, seller, price, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, token_id)
		DO UPDATE SET seller = EXCLUDED.seller, price = EXCLUDED.price, created_at = EXCLUDED.created_at`,
		l.Collection, int64(l.TokenID), l.Seller, l.Price, l.CreatedAt)
	return err
}

func (t *pgTx) DeleteListing(ctx context.Context, collection string, tokenID uint64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM listings WHERE collection = $1 AND token_id = $2`, collection, int64(tokenID))
	return err
}

func (t *pgTx) Auction(ctx context.Context, id uint64) (*models.Auction, error) {
	return getAuction(ctx, t.tx, id, " FOR UPDATE")
}

func (t *pgTx) NextAuctionID(ctx context.Context) (uint64, error) {
	var next int64
	err := t.tx.QueryRowContext(ctx, `UPDATE auction_counter SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next auction id: %w", err)
	}
	return uint64(next), nil
}

func (t *pgTx) PutAuction(ctx context.Context, a *models.Auction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO auctions (`+auctionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id)
		DO UPDATE SET highest_bid = EXCLUDED.highest_bid, highest_bidder = EXCLUDED.highest_bidder,
			settled = EXCLUDED.settled, cancelled = EXCLUDED.cancelled`,
		int64(a.ID), a.Seller, a.Collection, int64(a.TokenID), a.StartPrice, a.EndTime,
		a.HighestBid, a.HighestBidder, a.Settled, a.Cancelled, a.CreatedAt)
	return err
}

func (t *pgTx) Balance(ctx context.Context, account string) (int64, error) {
	return getBalance(ctx, t.tx, account, " FOR UPDATE")
}

func (t *pgTx) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	// Make sure the row exists so FOR UPDATE has something to lock.
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (account_id, balance, version, updated_at)
		VALUES ($1, 0, 1, $2)
		ON CONFLICT (account_id) DO NOTHING`, e.AccountID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("open balance: %w", err)
	}

	balance, err := t.Balance(ctx, e.AccountID)
	if err != nil {
		return err
	}
	next, err := models.AddAmounts(balance, e.Amount)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", e.AccountID, err)
	}
	if next < 0 {
		return ErrNegativeBalance
	}
	e.Balance = next

	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (account_id, amount, entry_type, reason, reference, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		e.AccountID, e.Amount, e.EntryType, e.Reason, e.Reference, e.Balance, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE balances
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE account_id = $3`,
		next, e.CreatedAt, e.AccountID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func getListing(ctx context.Context, q querier, collection string, tokenID uint64, lock string) (*models.Listing, error) {
	var l models.Listing
	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT collection, token_id, seller, price, created_at
		FROM listings
		WHERE collection = $1 AND token_id = $2`+lock,
		collection, int64(tokenID)).Scan(&l.Collection, &id, &l.Seller, &l.Price, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.TokenID = uint64(id)
	return &l, nil
}

func getAuction(ctx context.Context, q querier, id uint64, lock string) (*models.Auction, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+auctionColumns+`
		FROM auctions
		WHERE id = $1`+lock, int64(id))
	a, err := scanAuction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

func getBalance(ctx context.Context, q querier, account, lock string) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx, `SELECT balance FROM balances WHERE account_id = $1`+lock, account).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAuction(s scanner) (*models.Auction, error) {
	var a models.Auction
	var id, tokenID int64
	err := s.Scan(&id, &a.Seller, &a.Collection, &tokenID, &a.StartPrice, &a.EndTime,
		&a.HighestBid, &a.HighestBidder, &a.Settled, &a.Cancelled, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.ID = uint64(id)
	a.TokenID = uint64(tokenID)
	return &a, nil
}
