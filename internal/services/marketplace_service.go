package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/galleryhq/marketplace/internal/audit"
	"github.com/galleryhq/marketplace/internal/events"
	"github.com/galleryhq/marketplace/internal/fees"
	"github.com/galleryhq/marketplace/internal/models"
	"github.com/galleryhq/marketplace/internal/store"
	"go.uber.org/zap"
)

// MarketplaceService sells tokens at a fixed price. Listed tokens stay with
// the seller; the operator moves them on purchase using the seller's approval.
type MarketplaceService struct {
	Deps
	ledger *LedgerService
	fees   FeeConfig
}

func NewMarketplaceService(d Deps, ledger *LedgerService, cfg FeeConfig) *MarketplaceService {
	return &MarketplaceService{Deps: d.withDefaults(), ledger: ledger, fees: cfg}
}

// ListItem creates or replaces the listing for a token the caller owns.
func (s *MarketplaceService) ListItem(ctx context.Context, caller, collection string, tokenID uint64, price int64) (*models.Listing, error) {
	if price <= 0 {
		return nil, ErrInvalidPrice
	}
	if err := checkCustody(ctx, s.Deps, s.fees.Operator, caller, collection, tokenID); err != nil {
		return nil, err
	}

	listing := &models.Listing{
		Collection: collection,
		TokenID:    tokenID,
		Seller:     caller,
		Price:      price,
		CreatedAt:  s.Now().UTC(),
	}
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.PutListing(ctx, listing)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{Type: events.ListingCreated, Collection: collection, TokenID: tokenID, Account: caller, Amount: price})
	return listing, nil
}

// CancelListing removes the caller's listing. No funds move.
func (s *MarketplaceService) CancelListing(ctx context.Context, caller, collection string, tokenID uint64) error {
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		listing, err := tx.Listing(ctx, collection, tokenID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoListing
		}
		if err != nil {
			return err
		}
		if listing.Seller != caller {
			return ErrNotSeller
		}
		return tx.DeleteListing(ctx, collection, tokenID)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.Event{Type: events.ListingCancelled, Collection: collection, TokenID: tokenID, Account: caller})
	return nil
}

// BuyItem settles a listing paid with exactly its price. The charge, the
// ledger credits, the listing removal and the token transfer either all
// happen or none do.
func (s *MarketplaceService) BuyItem(ctx context.Context, caller, collection string, tokenID uint64, amountPaid int64) (*models.Sale, error) {
	ref := newReference("listing", collection, tokenID)
	var sale *models.Sale
	charged := false

	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		listing, err := tx.Listing(ctx, collection, tokenID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoListing
		}
		if err != nil {
			return err
		}
		if amountPaid != listing.Price {
			return ErrIncorrectPrice
		}

		if err := s.Payments.Charge(ctx, caller, amountPaid, ref); err != nil {
			return fmt.Errorf("charge buyer: %w", err)
		}
		charged = true

		sale, err = distribute(ctx, tx, s.Deps, s.ledger, s.fees, ref, collection, tokenID, listing.Seller, listing.Price)
		if err != nil {
			return err
		}
		sale.Kind = models.SaleKindListing
		sale.Buyer = caller

		if err := tx.DeleteListing(ctx, collection, tokenID); err != nil {
			return err
		}

		if err := s.Registry.TransferFrom(ctx, s.fees.Operator, collection, listing.Seller, caller, tokenID); err != nil {
			return transferFailed(err)
		}
		return nil
	})
	if err != nil {
		if charged {
			s.Audit.LogError(ref, caller, err)
			s.refund(ctx, caller, amountPaid, ref)
		}
		return nil, err
	}

	s.Audit.LogTransfer(ref, caller, "escrow", amountPaid, audit.StatusSuccess)
	s.Audit.LogAsset(ref, collection, tokenID, sale.Seller, caller)
	s.publish(ctx, events.Event{
		Type:         events.ListingSold,
		Collection:   collection,
		TokenID:      tokenID,
		Account:      caller,
		Counterparty: sale.Seller,
		Amount:       sale.Price,
	})
	s.Logger.Info("Listing sold",
		zap.String("collection", collection),
		zap.Uint64("token_id", tokenID),
		zap.String("buyer", caller),
		zap.Int64("price", sale.Price))
	return sale, nil
}

// Listing returns the active listing for a token.
func (s *MarketplaceService) Listing(ctx context.Context, collection string, tokenID uint64) (*models.Listing, error) {
	listing, err := s.Store.Listing(ctx, collection, tokenID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoListing
	}
	return listing, err
}

// checkCustody verifies the caller owns the token and has approved the
// operator to move it.
func checkCustody(ctx context.Context, d Deps, operator, caller, collection string, tokenID uint64) error {
	owner, err := d.Registry.OwnerOf(ctx, collection, tokenID)
	if err != nil {
		return fmt.Errorf("owner of token %d: %w", tokenID, err)
	}
	if owner != caller {
		return ErrNotOwner
	}
	approved, err := d.Registry.GetApproved(ctx, collection, tokenID)
	if err != nil {
		return fmt.Errorf("approval of token %d: %w", tokenID, err)
	}
	if approved != operator {
		return ErrNotApproved
	}
	return nil
}

// distribute splits price between the seller, the royalty receiver and the
// platform and credits each share to the ledger.
func distribute(ctx context.Context, tx store.Tx, d Deps, ledger *LedgerService, cfg FeeConfig, ref, collection string, tokenID uint64, seller string, price int64) (*models.Sale, error) {
	receiver, royalty, err := d.Registry.RoyaltyInfo(ctx, collection, tokenID, price)
	if err != nil {
		return nil, fmt.Errorf("royalty info: %w", err)
	}
	if receiver == "" {
		royalty = 0
	}

	split, err := fees.SplitWithRoyalty(price, royalty, cfg.PlatformFeeBps)
	if err != nil {
		return nil, err
	}

	if err := ledger.credit(ctx, tx, seller, split.SellerProceeds, models.ReasonSaleProceeds, ref); err != nil {
		return nil, err
	}
	if err := ledger.credit(ctx, tx, receiver, split.Royalty, models.ReasonRoyalty, ref); err != nil {
		return nil, err
	}
	if err := ledger.credit(ctx, tx, cfg.PlatformAccount, split.PlatformFee, models.ReasonPlatformFee, ref); err != nil {
		return nil, err
	}

	return &models.Sale{
		Collection:      collection,
		TokenID:         tokenID,
		Seller:          seller,
		Price:           price,
		RoyaltyReceiver: receiver,
		Royalty:         split.Royalty,
		PlatformFee:     split.PlatformFee,
		SellerProceeds:  split.SellerProceeds,
	}, nil
}
