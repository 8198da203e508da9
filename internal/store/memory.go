package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/galleryhq/marketplace/internal/models"
)

type listingKey struct {
	collection string
	tokenID    uint64
}

type state struct {
	listings map[listingKey]models.Listing
	auctions map[uint64]models.Auction
	counter  uint64
	balances map[string]int64
	entries  []models.LedgerEntry
}

// Memory is a single-writer in-memory Store. Writers run one at a time and
// their staged changes are applied on commit.
type Memory struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   state
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		state: state{
			listings: make(map[listingKey]models.Listing),
			auctions: make(map[uint64]models.Auction),
			balances: make(map[string]int64),
		},
		now: time.Now,
	}
}

func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		m:        m,
		listings: make(map[listingKey]*models.Listing),
		auctions: make(map[uint64]models.Auction),
		balances: make(map[string]int64),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.commit(tx)
	return nil
}

func (m *Memory) commit(tx *memTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, l := range tx.listings {
		if l == nil {
			delete(m.state.listings, k)
			continue
		}
		m.state.listings[k] = *l
	}
	for id, a := range tx.auctions {
		m.state.auctions[id] = a
	}
	if tx.counter != nil {
		m.state.counter = *tx.counter
	}
	for account, balance := range tx.balances {
		m.state.balances[account] = balance
	}
	for _, e := range tx.entries {
		e.ID = int64(len(m.state.entries) + 1)
		m.state.entries = append(m.state.entries, e)
	}
}

func (m *Memory) Listing(_ context.Context, collection string, tokenID uint64) (*models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.state.listings[listingKey{collection, tokenID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (m *Memory) Auction(_ context.Context, id uint64) (*models.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.state.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *Memory) AuctionCounter(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.counter, nil
}

func (m *Memory) Balance(_ context.Context, account string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.balances[account], nil
}

// LedgerEntries returns the newest entries for account first.
func (m *Memory) LedgerEntries(_ context.Context, account string, limit int) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.LedgerEntry{}
	for i := len(m.state.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.state.entries[i].AccountID == account {
			out = append(out, m.state.entries[i])
		}
	}
	return out, nil
}

// ExpiredAuctions returns unsettled auctions whose end time has passed,
// oldest id first.
func (m *Memory) ExpiredAuctions(_ context.Context, now time.Time, limit int) ([]models.Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Auction{}
	for _, a := range m.state.auctions {
		if !a.Settled && !now.Before(a.EndTime) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTx struct {
	m        *Memory
	listings map[listingKey]*models.Listing // nil value marks a delete
	auctions map[uint64]models.Auction
	counter  *uint64
	balances map[string]int64
	entries  []models.LedgerEntry
}

func (tx *memTx) Listing(ctx context.Context, collection string, tokenID uint64) (*models.Listing, error) {
	if l, ok := tx.listings[listingKey{collection, tokenID}]; ok {
		if l == nil {
			return nil, ErrNotFound
		}
		cp := *l
		return &cp, nil
	}
	return tx.m.Listing(ctx, collection, tokenID)
}

func (tx *memTx) PutListing(_ context.Context, l *models.Listing) error {
	cp := *l
	tx.listings[listingKey{l.Collection, l.TokenID}] = &cp
	return nil
}

func (tx *memTx) DeleteListing(_ context.Context, collection string, tokenID uint64) error {
	tx.listings[listingKey{collection, tokenID}] = nil
	return nil
}

func (tx *memTx) Auction(ctx context.Context, id uint64) (*models.Auction, error) {
	if a, ok := tx.auctions[id]; ok {
		return &a, nil
	}
	return tx.m.Auction(ctx, id)
}

func (tx *memTx) NextAuctionID(ctx context.Context) (uint64, error) {
	current := uint64(0)
	if tx.counter != nil {
		current = *tx.counter
	} else {
		c, err := tx.m.AuctionCounter(ctx)
		if err != nil {
			return 0, err
		}
		current = c
	}
	next := current + 1
	tx.counter = &next
	return next, nil
}

func (tx *memTx) PutAuction(_ context.Context, a *models.Auction) error {
	tx.auctions[a.ID] = *a
	return nil
}

func (tx *memTx) Balance(ctx context.Context, account string) (int64, error) {
	if b, ok := tx.balances[account]; ok {
		return b, nil
	}
	return tx.m.Balance(ctx, account)
}

func (tx *memTx) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	balance, err := tx.Balance(ctx, e.AccountID)
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
	tx.balances[e.AccountID] = next
	e.Balance = next
	if e.CreatedAt.IsZero() {
		e.CreatedAt = tx.m.now().UTC()
	}
	tx.entries = append(tx.entries, *e)
	return nil
}
