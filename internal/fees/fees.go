// Package fees computes how a sale price is divided between the seller, the
// royalty receiver and the platform.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// BpsDenominator is the basis point scale: 10000 bps == 100%.
const BpsDenominator = 10_000

var (
	ErrInvalidBps      = errors.New("basis points must be between 0 and 10000")
	ErrInvalidAmount   = errors.New("sale price must not be negative")
	ErrFeesExceedPrice = errors.New("royalty and platform fee exceed sale price")
)

var denominator = decimal.NewFromInt(BpsDenominator)

// Split is the three-way distribution of a sale price.
type Split struct {
	SalePrice      int64 `json:"salePrice"`
	Royalty        int64 `json:"royalty"`
	PlatformFee    int64 `json:"platformFee"`
	SellerProceeds int64 `json:"sellerProceeds"`
}

// Total is always equal to SalePrice.
func (s Split) Total() int64 {
	return s.Royalty + s.PlatformFee + s.SellerProceeds
}

// BpsOf returns amount*bps/10000 truncated toward zero. The product is
// computed without fixed-width overflow.
func BpsOf(amount, bps int64) (int64, error) {
	if bps < 0 || bps > BpsDenominator {
		return 0, ErrInvalidBps
	}
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	q, _ := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(bps)).QuoRem(denominator, 0)
	return q.IntPart(), nil
}

// SplitPrice divides salePrice. The seller receives whatever is left after the
// truncated royalty and platform amounts, truncation residue included.
func SplitPrice(salePrice, royaltyBps, platformFeeBps int64) (Split, error) {
	royalty, err := BpsOf(salePrice, royaltyBps)
	if err != nil {
		return Split{}, fmt.Errorf("royalty: %w", err)
	}
	return SplitWithRoyalty(salePrice, royalty, platformFeeBps)
}

// SplitWithRoyalty is SplitPrice for registries that report a royalty amount
// instead of a rate.
func SplitWithRoyalty(salePrice, royalty, platformFeeBps int64) (Split, error) {
	if salePrice < 0 || royalty < 0 {
		return Split{}, ErrInvalidAmount
	}
	platform, err := BpsOf(salePrice, platformFeeBps)
	if err != nil {
		return Split{}, fmt.Errorf("platform fee: %w", err)
	}
	if royalty > salePrice-platform {
		return Split{}, ErrFeesExceedPrice
	}
	return Split{
		SalePrice:      salePrice,
		Royalty:        royalty,
		PlatformFee:    platform,
		SellerProceeds: salePrice - royalty - platform,
	}, nil
}
