package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/galleryhq/marketplace/internal/events"
	"github.com/galleryhq/marketplace/internal/payment"
	"github.com/galleryhq/marketplace/internal/registry"
	"github.com/galleryhq/marketplace/internal/store"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	factory  = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	operator = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	platform = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	artist   = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
	seller   = "0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65"
	buyer    = "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc"
	bidder2  = "0x976EA74026E726554dB657fA54763abd0C3a0aa9"

	unit = int64(1_000_000_000_000_000_000)
)

var errPayoutRejected = errors.New("payout rejected")

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) OwnerOf(ctx context.Context, collection string, tokenID uint64) (string, error) {
	args := m.Called(ctx, collection, tokenID)
	return args.String(0), args.Error(1)
}

func (m *MockRegistry) GetApproved(ctx context.Context, collection string, tokenID uint64) (string, error) {
	args := m.Called(ctx, collection, tokenID)
	return args.String(0), args.Error(1)
}

func (m *MockRegistry) Approve(ctx context.Context, caller, collection, spender string, tokenID uint64) error {
	args := m.Called(ctx, caller, collection, spender, tokenID)
	return args.Error(0)
}

func (m *MockRegistry) TransferFrom(ctx context.Context, operator, collection, from, to string, tokenID uint64) error {
	args := m.Called(ctx, operator, collection, from, to, tokenID)
	return args.Error(0)
}

func (m *MockRegistry) RoyaltyInfo(ctx context.Context, collection string, tokenID uint64, salePrice int64) (string, int64, error) {
	args := m.Called(ctx, collection, tokenID, salePrice)
	return args.String(0), args.Get(1).(int64), args.Error(2)
}

// faultyGateway delegates to a Gateway until told to fail payouts.
type faultyGateway struct {
	payment.Gateway
	mu         sync.Mutex
	failPayout bool
}

func (g *faultyGateway) Payout(ctx context.Context, to string, amount int64, ref string) error {
	g.mu.Lock()
	fail := g.failPayout
	g.mu.Unlock()
	if fail {
		return errPayoutRejected
	}
	return g.Gateway.Payout(ctx, to, amount, ref)
}

func (g *faultyGateway) setFailPayout(fail bool) {
	g.mu.Lock()
	g.failPayout = fail
	g.mu.Unlock()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx        context.Context
	store      *store.Memory
	registry   *registry.Memory
	wallets    *payment.Wallets
	gateway    *faultyGateway
	events     *events.Recorder
	clock      *testClock
	ledger     *LedgerService
	market     *MarketplaceService
	auctions   *AuctionService
	collection string
}

// newFixture wires the engines over in-memory collaborators with a 5%
// royalty collection and a 2.5% platform fee.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	wallets := payment.NewWallets()
	gateway := &faultyGateway{Gateway: wallets}
	reg := registry.NewMemory(factory, wallets)
	coll, err := reg.CreateCollection(ctx, artist, "Gallery", "GAL", "ipfs://gallery/", 500, 0)
	require.NoError(t, err)

	f := &fixture{
		ctx:        ctx,
		store:      store.NewMemory(),
		registry:   reg,
		wallets:    wallets,
		gateway:    gateway,
		events:     &events.Recorder{},
		clock:      &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		collection: coll.Address,
	}
	deps := Deps{
		Store:    f.store,
		Registry: reg,
		Payments: gateway,
		Events:   f.events,
		Logger:   zap.NewNop(),
		Now:      f.clock.Now,
	}
	cfg := FeeConfig{Operator: operator, PlatformAccount: platform, PlatformFeeBps: 250}
	f.ledger = NewLedgerService(deps)
	f.market = NewMarketplaceService(deps, f.ledger, cfg)
	f.auctions = NewAuctionService(deps, f.ledger, cfg)
	return f
}

// mint gives owner a new token already approved for the operator.
func (f *fixture) mint(t *testing.T, owner string) uint64 {
	t.Helper()
	id, err := f.registry.Mint(f.ctx, owner, f.collection, "ipfs://gallery/token.json", 0)
	require.NoError(t, err)
	require.NoError(t, f.registry.Approve(f.ctx, owner, f.collection, operator, id))
	return id
}

func (f *fixture) fund(t *testing.T, account string, amount int64) {
	t.Helper()
	require.NoError(t, f.wallets.Deposit(account, amount))
}

func (f *fixture) balance(t *testing.T, account string) int64 {
	t.Helper()
	b, err := f.ledger.Balance(f.ctx, account)
	require.NoError(t, err)
	return b
}

func (f *fixture) owner(t *testing.T, tokenID uint64) string {
	t.Helper()
	owner, err := f.registry.OwnerOf(f.ctx, f.collection, tokenID)
	require.NoError(t, err)
	return owner
}
