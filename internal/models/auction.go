package models

import (
	"math"
	"time"
)

type AuctionState string

const (
	AuctionActive    AuctionState = "ACTIVE"
	AuctionExpired   AuctionState = "EXPIRED"
	AuctionSettled   AuctionState = "SETTLED"
	AuctionCancelled AuctionState = "CANCELLED"
)

// MinIncrementDivisor gives the 5% minimum raise over the current highest bid.
const MinIncrementDivisor = 20

// Auction is an English auction over one escrowed token. HighestBid is zero
// exactly when HighestBidder is empty. EndTime never moves after creation.
type Auction struct {
	ID            uint64    `json:"id" db:"id"`
	Seller        string    `json:"seller" db:"seller"`
	Collection    string    `json:"collection" db:"collection"`
	TokenID       uint64    `json:"tokenId" db:"token_id"`
	StartPrice    int64     `json:"startPrice" db:"start_price"`
	EndTime       time.Time `json:"endTime" db:"end_time"`
	HighestBid    int64     `json:"highestBid" db:"highest_bid"`
	HighestBidder string    `json:"highestBidder" db:"highest_bidder"`
	Settled       bool      `json:"settled" db:"settled"`
	Cancelled     bool      `json:"cancelled" db:"cancelled"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// HasBids reports whether a bid has been accepted.
func (a *Auction) HasBids() bool {
	return a.HighestBid > 0
}

// MinimumBid returns the smallest amount the next bid must reach. ok is false
// when that amount does not fit in an int64, so no further bid can win.
func (a *Auction) MinimumBid() (amount int64, ok bool) {
	if a.HighestBid == 0 {
		return a.StartPrice, true
	}
	increment := a.HighestBid / MinIncrementDivisor
	if increment < 1 {
		increment = 1
	}
	if a.HighestBid > math.MaxInt64-increment {
		return 0, false
	}
	return a.HighestBid + increment, true
}

// State derives the lifecycle state at the given instant.
func (a *Auction) State(now time.Time) AuctionState {
	switch {
	case a.Cancelled:
		return AuctionCancelled
	case a.Settled:
		return AuctionSettled
	case now.Before(a.EndTime):
		return AuctionActive
	default:
		return AuctionExpired
	}
}
