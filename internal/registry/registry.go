// Package registry is the asset side of the marketplace: token ownership,
// approvals and royalty information.
package registry

import (
	"context"
	"errors"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrNonexistentToken  = errors.New("nonexistent token")
	ErrNotAuthorized     = errors.New("caller is not token owner or approved")
	ErrIncorrectMintFee  = errors.New("incorrect mint fee")
	ErrInvalidRoyalty    = errors.New("royalty too high")
	ErrInvalidMintFee    = errors.New("mint fee must not be negative")
)

// Registry is the capability the settlement engines need from an ERC-721
// collection contract.
type Registry interface {
	OwnerOf(ctx context.Context, collection string, tokenID uint64) (string, error)
	GetApproved(ctx context.Context, collection string, tokenID uint64) (string, error)
	Approve(ctx context.Context, caller, collection, spender string, tokenID uint64) error
	TransferFrom(ctx context.Context, operator, collection, from, to string, tokenID uint64) error
	RoyaltyInfo(ctx context.Context, collection string, tokenID uint64, salePrice int64) (receiver string, amount int64, err error)
}
