package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/galleryhq/marketplace/internal/events"
	"github.com/galleryhq/marketplace/internal/models"
	"github.com/galleryhq/marketplace/internal/payment"
	"github.com/galleryhq/marketplace/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuctionService_CreateAuction(t *testing.T) {
	f := newFixture(t)
	token := f.mint(t, seller)

	tests := []struct {
		name       string
		caller     string
		startPrice int64
		duration   time.Duration
		wantErr    error
	}{
		{"zero duration", seller, 100, 0, ErrInvalidDuration},
		{"negative duration", seller, 100, -time.Minute, ErrInvalidDuration},
		{"zero start price", seller, 0, time.Hour, ErrInvalidPrice},
		{"not the owner", buyer, 100, time.Hour, ErrNotOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auctions.CreateAuction(f.ctx, tt.caller, f.collection, token, tt.startPrice, tt.duration)
			assert.ErrorIs(t, err, tt.wantErr)

			counter, err := f.auctions.AuctionCounter(f.ctx)
			require.NoError(t, err)
			assert.Zero(t, counter)
			_, err = f.auctions.Auction(f.ctx, 1)
			assert.ErrorIs(t, err, ErrAuctionNotFound)
		})
	}

	t.Run("escrows the token", func(t *testing.T) {
		a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, token, 100, time.Hour)
		require.NoError(t, err)

		assert.Equal(t, uint64(1), a.ID)
		assert.Equal(t, f.clock.Now().Add(time.Hour), a.EndTime)
		assert.False(t, a.HasBids())
		assert.Empty(t, a.HighestBidder)
		assert.Equal(t, models.AuctionActive, a.State(f.clock.Now()))
		assert.Equal(t, operator, f.owner(t, token))
	})

	t.Run("ids are sequential", func(t *testing.T) {
		a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, f.mint(t, seller), 100, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), a.ID)

		counter, err := f.auctions.AuctionCounter(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), counter)
	})

	t.Run("withdraws an existing listing", func(t *testing.T) {
		listed := f.mint(t, seller)
		_, err := f.market.ListItem(f.ctx, seller, f.collection, listed, 100)
		require.NoError(t, err)

		_, err = f.auctions.CreateAuction(f.ctx, seller, f.collection, listed, 100, time.Hour)
		require.NoError(t, err)

		_, err = f.market.Listing(f.ctx, f.collection, listed)
		assert.ErrorIs(t, err, ErrNoListing)
	})
}

func TestAuctionService_CreateAuctionRollsBack(t *testing.T) {
	ctx := context.Background()
	reg := new(MockRegistry)
	mem := store.NewMemory()
	svc := NewAuctionService(Deps{
		Store:    mem,
		Registry: reg,
		Payments: payment.NewWallets(),
		Events:   &events.Recorder{},
		Logger:   zap.NewNop(),
	}, nil, FeeConfig{Operator: operator, PlatformAccount: platform, PlatformFeeBps: 250})

	t.Run("not owner never touches the registry", func(t *testing.T) {
		reg.On("OwnerOf", mock.Anything, "0xcoll", uint64(7)).Return(buyer, nil).Once()

		_, err := svc.CreateAuction(ctx, seller, "0xcoll", 7, 100, time.Hour)
		assert.ErrorIs(t, err, ErrNotOwner)
		reg.AssertNotCalled(t, "TransferFrom", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("failed escrow leaves no auction", func(t *testing.T) {
		reg.On("OwnerOf", mock.Anything, "0xcoll", uint64(8)).Return(seller, nil).Once()
		reg.On("GetApproved", mock.Anything, "0xcoll", uint64(8)).Return(operator, nil).Once()
		reg.On("TransferFrom", mock.Anything, operator, "0xcoll", seller, operator, uint64(8)).
			Return(errors.New("paused")).Once()

		_, err := svc.CreateAuction(ctx, seller, "0xcoll", 8, 100, time.Hour)
		assert.ErrorIs(t, err, ErrTransferFailed)

		counter, err := mem.AuctionCounter(ctx)
		require.NoError(t, err)
		assert.Zero(t, counter)
		_, err = mem.Auction(ctx, 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	reg.AssertExpectations(t)
}

func TestAuctionService_Bid(t *testing.T) {
	f := newFixture(t)
	token := f.mint(t, seller)
	f.fund(t, buyer, 2*unit)
	f.fund(t, bidder2, 2*unit)

	a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, token, unit, time.Hour)
	require.NoError(t, err)

	t.Run("unknown auction", func(t *testing.T) {
		_, err := f.auctions.Bid(f.ctx, buyer, 99, unit)
		assert.ErrorIs(t, err, ErrAuctionNotFound)
	})

	t.Run("seller cannot bid", func(t *testing.T) {
		_, err := f.auctions.Bid(f.ctx, seller, a.ID, unit)
		assert.ErrorIs(t, err, ErrSellerCannotBid)
	})

	t.Run("first bid must reach the start price", func(t *testing.T) {
		_, err := f.auctions.Bid(f.ctx, buyer, a.ID, unit-1)
		assert.ErrorIs(t, err, ErrBidTooLow)
	})

	t.Run("first bid at the start price", func(t *testing.T) {
		got, err := f.auctions.Bid(f.ctx, buyer, a.ID, unit)
		require.NoError(t, err)
		assert.Equal(t, unit, got.HighestBid)
		assert.Equal(t, buyer, got.HighestBidder)
		assert.Equal(t, unit, f.wallets.Balance(buyer))
	})

	t.Run("raise below five percent is rejected", func(t *testing.T) {
		_, err := f.auctions.Bid(f.ctx, bidder2, a.ID, unit+unit/25) // 1.04
		assert.ErrorIs(t, err, ErrBidTooLow)
		assert.Equal(t, 2*unit, f.wallets.Balance(bidder2))
	})

	t.Run("outbid bidder is refunded through the ledger", func(t *testing.T) {
		got, err := f.auctions.Bid(f.ctx, bidder2, a.ID, unit+unit/20) // 1.05
		require.NoError(t, err)
		assert.Equal(t, bidder2, got.HighestBidder)
		assert.Equal(t, unit, f.balance(t, buyer))

		entries, err := f.ledger.Entries(f.ctx, buyer, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.ReasonRefund, entries[0].Reason)
		assert.Equal(t, models.EntryCredit, entries[0].EntryType)
	})

	t.Run("escrow holds the highest bid and the refunds", func(t *testing.T) {
		assert.Equal(t, f.balance(t, buyer)+unit+unit/20, f.wallets.Escrowed())
	})

	t.Run("no bids at or after the end time", func(t *testing.T) {
		f.clock.Advance(time.Hour)
		_, err := f.auctions.Bid(f.ctx, buyer, a.ID, 2*unit)
		assert.ErrorIs(t, err, ErrAuctionExpired)
	})

	assert.Equal(t, []string{events.AuctionCreated, events.AuctionBid, events.AuctionBid}, f.events.Types())
}

func TestAuctionService_MinimumIncrement(t *testing.T) {
	for _, h := range []int64{1, 2, 19, 20, 21, 100, 1_000, 12_345, unit} {
		t.Run(fmt.Sprintf("H=%d", h), func(t *testing.T) {
			f := newFixture(t)
			f.fund(t, buyer, h)
			f.fund(t, bidder2, 2*h+2)

			a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, f.mint(t, seller), 1, time.Hour)
			require.NoError(t, err)
			_, err = f.auctions.Bid(f.ctx, buyer, a.ID, h)
			require.NoError(t, err)

			increment := h / 20
			if increment < 1 {
				increment = 1
			}

			_, err = f.auctions.Bid(f.ctx, bidder2, a.ID, h+increment-1)
			assert.ErrorIs(t, err, ErrBidTooLow)

			_, err = f.auctions.Bid(f.ctx, bidder2, a.ID, h+increment)
			assert.NoError(t, err)
			assert.Equal(t, h, f.balance(t, buyer))
		})
	}
}

func TestAuctionService_BidNearMaxAmount(t *testing.T) {
	f := newFixture(t)
	f.fund(t, buyer, 9*unit)
	f.fund(t, bidder2, math.MaxInt64)

	a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, f.mint(t, seller), 9*unit, time.Hour)
	require.NoError(t, err)
	_, err = f.auctions.Bid(f.ctx, buyer, a.ID, 9*unit)
	require.NoError(t, err)

	// The 5% raise over 9 units no longer fits in an int64.
	for _, amount := range []int64{1, 9 * unit, math.MaxInt64} {
		_, err = f.auctions.Bid(f.ctx, bidder2, a.ID, amount)
		assert.ErrorIs(t, err, ErrBidTooLow)
	}

	got, err := f.auctions.Auction(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 9*unit, got.HighestBid)
	assert.Equal(t, buyer, got.HighestBidder)
	assert.Zero(t, f.balance(t, buyer))
	assert.Equal(t, 9*unit, f.wallets.Escrowed())
}

func TestAuctionService_SettleAuction(t *testing.T) {
	f := newFixture(t)
	token := f.mint(t, seller)
	f.fund(t, buyer, 1_000_000)

	a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, token, 500_000, time.Hour)
	require.NoError(t, err)
	_, err = f.auctions.Bid(f.ctx, buyer, a.ID, 1_000_000)
	require.NoError(t, err)

	_, err = f.auctions.SettleAuction(f.ctx, bidder2, a.ID)
	assert.ErrorIs(t, err, ErrNotYetEnded)

	f.clock.Advance(time.Hour)

	sale, err := f.auctions.SettleAuction(f.ctx, bidder2, a.ID)
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, models.SaleKindAuction, sale.Kind)
	assert.Equal(t, buyer, sale.Buyer)
	assert.Equal(t, int64(925_000), f.balance(t, seller))
	assert.Equal(t, int64(50_000), f.balance(t, artist))
	assert.Equal(t, int64(25_000), f.balance(t, platform))
	assert.Equal(t, buyer, f.owner(t, token))

	_, err = f.auctions.SettleAuction(f.ctx, bidder2, a.ID)
	assert.ErrorIs(t, err, ErrAlreadySettled)
	assert.Equal(t, int64(925_000), f.balance(t, seller))
	assert.Equal(t, buyer, f.owner(t, token))

	stored, err := f.auctions.Auction(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionSettled, stored.State(f.clock.Now()))
}

func TestAuctionService_SettleWithoutBids(t *testing.T) {
	f := newFixture(t)
	token := f.mint(t, seller)

	a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, token, 100, time.Minute)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	stored, err := f.auctions.Auction(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionExpired, stored.State(f.clock.Now()))

	sale, err := f.auctions.SettleAuction(f.ctx, buyer, a.ID)
	require.NoError(t, err)
	assert.Nil(t, sale)
	assert.Equal(t, seller, f.owner(t, token))
	assert.Zero(t, f.balance(t, seller))
}

func TestAuctionService_ConcurrentSettle(t *testing.T) {
	f := newFixture(t)
	token := f.mint(t, seller)
	f.fund(t, buyer, 1_000)

	a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, token, 1_000, time.Minute)
	require.NoError(t, err)
	_, err = f.auctions.Bid(f.ctx, buyer, a.ID, 1_000)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	const callers = 20
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.auctions.SettleAuction(f.ctx, bidder2, a.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadySettled)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(1_000), f.balance(t, seller)+f.balance(t, artist)+f.balance(t, platform))
}

func TestAuctionService_CancelAuction(t *testing.T) {
	f := newFixture(t)
	f.fund(t, buyer, 1_000)

	t.Run("only the seller", func(t *testing.T) {
		a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, f.mint(t, seller), 100, time.Hour)
		require.NoError(t, err)
		_, err = f.auctions.CancelAuction(f.ctx, buyer, a.ID)
		assert.ErrorIs(t, err, ErrNotSeller)
	})

	t.Run("not once a bid exists", func(t *testing.T) {
		a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, f.mint(t, seller), 100, time.Hour)
		require.NoError(t, err)
		minimum, ok := a.MinimumBid()
		require.True(t, ok)
		_, err = f.auctions.Bid(f.ctx, buyer, a.ID, minimum)
		require.NoError(t, err)

		_, err = f.auctions.CancelAuction(f.ctx, seller, a.ID)
		assert.ErrorIs(t, err, ErrHasBids)
	})

	t.Run("returns the token", func(t *testing.T) {
		token := f.mint(t, seller)
		a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, token, 100, time.Hour)
		require.NoError(t, err)

		got, err := f.auctions.CancelAuction(f.ctx, seller, a.ID)
		require.NoError(t, err)
		assert.True(t, got.Settled)
		assert.Equal(t, models.AuctionCancelled, got.State(f.clock.Now()))
		assert.Equal(t, seller, f.owner(t, token))

		_, err = f.auctions.CancelAuction(f.ctx, seller, a.ID)
		assert.ErrorIs(t, err, ErrAlreadySettled)
		_, err = f.auctions.Bid(f.ctx, buyer, a.ID, 100)
		assert.ErrorIs(t, err, ErrAlreadySettled)
		_, err = f.auctions.SettleAuction(f.ctx, buyer, a.ID)
		assert.ErrorIs(t, err, ErrAlreadySettled)
	})

	t.Run("not after the end time", func(t *testing.T) {
		a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, f.mint(t, seller), 100, time.Minute)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)

		_, err = f.auctions.CancelAuction(f.ctx, seller, a.ID)
		assert.ErrorIs(t, err, ErrAuctionExpired)
	})
}

func TestAuctionService_SettleExpired(t *testing.T) {
	f := newFixture(t)
	f.fund(t, buyer, 1_000)

	short, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, f.mint(t, seller), 100, time.Minute)
	require.NoError(t, err)
	withBid, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, f.mint(t, seller), 100, 2*time.Minute)
	require.NoError(t, err)
	long, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, f.mint(t, seller), 100, time.Hour)
	require.NoError(t, err)

	_, err = f.auctions.Bid(f.ctx, buyer, withBid.ID, 1_000)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)

	settled, err := f.auctions.SettleExpired(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, settled)

	for _, id := range []uint64{short.ID, withBid.ID} {
		a, err := f.auctions.Auction(f.ctx, id)
		require.NoError(t, err)
		assert.True(t, a.Settled)
	}
	a, err := f.auctions.Auction(f.ctx, long.ID)
	require.NoError(t, err)
	assert.False(t, a.Settled)
	assert.Equal(t, buyer, f.owner(t, withBid.TokenID))

	settled, err = f.auctions.SettleExpired(f.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, settled)
}

func TestAuctionService_RunKeeper(t *testing.T) {
	f := newFixture(t)
	a, err := f.auctions.CreateAuction(f.ctx, seller, f.collection, f.mint(t, seller), 100, time.Minute)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.auctions.RunKeeper(ctx, 5*time.Millisecond, 10)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		got, err := f.auctions.Auction(f.ctx, a.ID)
		return err == nil && got.Settled
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
}
