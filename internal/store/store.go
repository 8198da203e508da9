// Package store holds listings, auctions and withdrawable balances behind
// an explicit repository so the engines never touch global state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/galleryhq/marketplace/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrNegativeBalance = errors.New("balance would become negative")
)

// Reader returns committed snapshots.
type Reader interface {
	Listing(ctx context.Context, collection string, tokenID uint64) (*models.Listing, error)
	Auction(ctx context.Context, id uint64) (*models.Auction, error)
	AuctionCounter(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, account string) (int64, error)
	LedgerEntries(ctx context.Context, account string, limit int) ([]models.LedgerEntry, error)
	ExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]models.Auction, error)
}

// Tx is a unit of work. Reads inside a Tx observe its own writes; records
// read through a Tx are locked against other writers until it ends.
type Tx interface {
	Listing(ctx context.Context, collection string, tokenID uint64) (*models.Listing, error)
	PutListing(ctx context.Context, l *models.Listing) error
	DeleteListing(ctx context.Context, collection string, tokenID uint64) error

	Auction(ctx context.Context, id uint64) (*models.Auction, error)
	NextAuctionID(ctx context.Context) (uint64, error)
	PutAuction(ctx context.Context, a *models.Auction) error

	Balance(ctx context.Context, account string) (int64, error)
	// AppendEntry applies e.Amount to the account balance, fills in
	// e.Balance and records the entry.
	AppendEntry(ctx context.Context, e *models.LedgerEntry) error
}

type Store interface {
	Reader
	// WithTx runs fn in a transaction. Every write made through the Tx is
	// discarded when fn returns an error.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
