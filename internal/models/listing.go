package models

import "time"

// Listing is a fixed-price offer for a single token. At most one listing
// exists per (collection, token).
type Listing struct {
	Collection string    `json:"collection" db:"collection"`
	TokenID    uint64    `json:"tokenId" db:"token_id"`
	Seller     string    `json:"seller" db:"seller"`
	Price      int64     `json:"price" db:"price"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// Active reports whether the listing can be bought.
func (l *Listing) Active() bool {
	return l != nil && l.Price > 0
}

const (
	SaleKindListing = "LISTING"
	SaleKindAuction = "AUCTION"
)

// Sale records how a sale price was distributed.
type Sale struct {
	Kind            string `json:"kind"`
	Collection      string `json:"collection"`
	TokenID         uint64 `json:"tokenId"`
	AuctionID       uint64 `json:"auctionId,omitempty"`
	Seller          string `json:"seller"`
	Buyer           string `json:"buyer"`
	Price           int64  `json:"price"`
	RoyaltyReceiver string `json:"royaltyReceiver,omitempty"`
	Royalty         int64  `json:"royalty"`
	PlatformFee     int64  `json:"platformFee"`
	SellerProceeds  int64  `json:"sellerProceeds"`
}
