package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/galleryhq/marketplace/internal/audit"
	"github.com/galleryhq/marketplace/internal/events"
	"github.com/galleryhq/marketplace/internal/models"
	"github.com/galleryhq/marketplace/internal/store"
	"go.uber.org/zap"
)

// AuctionService runs English auctions. The token is escrowed with the
// operator from creation until settlement or cancellation; the highest bid is
// held by the payment gateway and outbid amounts are refunded to the ledger.
type AuctionService struct {
	Deps
	ledger *LedgerService
	fees   FeeConfig
}

func NewAuctionService(d Deps, ledger *LedgerService, cfg FeeConfig) *AuctionService {
	return &AuctionService{Deps: d.withDefaults(), ledger: ledger, fees: cfg}
}

func (s *AuctionService) CreateAuction(ctx context.Context, caller, collection string, tokenID uint64, startPrice int64, duration time.Duration) (*models.Auction, error) {
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if startPrice <= 0 {
		return nil, ErrInvalidPrice
	}
	if err := checkCustody(ctx, s.Deps, s.fees.Operator, caller, collection, tokenID); err != nil {
		return nil, err
	}

	now := s.Now().UTC()
	var auction *models.Auction
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		id, err := tx.NextAuctionID(ctx)
		if err != nil {
			return err
		}
		auction = &models.Auction{
			ID:         id,
			Seller:     caller,
			Collection: collection,
			TokenID:    tokenID,
			StartPrice: startPrice,
			EndTime:    now.Add(duration),
			CreatedAt:  now,
		}
		if err := tx.PutAuction(ctx, auction); err != nil {
			return err
		}
		// A listing cannot be bought once the token is in escrow.
		if err := tx.DeleteListing(ctx, collection, tokenID); err != nil {
			return err
		}
		if err := s.Registry.TransferFrom(ctx, s.fees.Operator, collection, caller, s.fees.Operator, tokenID); err != nil {
			return transferFailed(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ref := fmt.Sprintf("auction:%d", auction.ID)
	s.Audit.LogAsset(ref, collection, tokenID, caller, s.fees.Operator)
	s.publish(ctx, events.Event{
		Type:       events.AuctionCreated,
		Collection: collection,
		TokenID:    tokenID,
		AuctionID:  auction.ID,
		Account:    caller,
		Amount:     startPrice,
	})
	return auction, nil
}

// Bid places amount as the new highest bid. The previous highest bidder is
// credited a refund in the ledger.
func (s *AuctionService) Bid(ctx context.Context, caller string, id uint64, amount int64) (*models.Auction, error) {
	ref := newReference("bid", id)
	var auction *models.Auction
	var outbid string
	var refunded int64
	charged := false

	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := lockAuction(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Settled {
			return ErrAlreadySettled
		}
		if !s.Now().Before(a.EndTime) {
			return ErrAuctionExpired
		}
		if caller == a.Seller {
			return ErrSellerCannotBid
		}
		minimum, ok := a.MinimumBid()
		if !ok || amount < minimum {
			return ErrBidTooLow
		}

		if err := s.Payments.Charge(ctx, caller, amount, ref); err != nil {
			return fmt.Errorf("charge bidder: %w", err)
		}
		charged = true

		if a.HasBids() {
			if err := s.ledger.credit(ctx, tx, a.HighestBidder, a.HighestBid, models.ReasonRefund, ref); err != nil {
				return err
			}
			outbid, refunded = a.HighestBidder, a.HighestBid
		}

		a.HighestBid = amount
		a.HighestBidder = caller
		if err := tx.PutAuction(ctx, a); err != nil {
			return err
		}
		auction = a
		return nil
	})
	if err != nil {
		if charged {
			s.Audit.LogError(ref, caller, err)
			s.refund(ctx, caller, amount, ref)
		}
		return nil, err
	}

	s.Audit.LogTransfer(ref, caller, "escrow", amount, audit.StatusSuccess)
	s.publish(ctx, events.Event{
		Type:         events.AuctionBid,
		Collection:   auction.Collection,
		TokenID:      auction.TokenID,
		AuctionID:    id,
		Account:      caller,
		Counterparty: outbid,
		Amount:       amount,
	})
	if outbid != "" {
		s.Logger.Debug("Bidder outbid",
			zap.Uint64("auction_id", id),
			zap.String("bidder", outbid),
			zap.Int64("refund", refunded))
	}
	return auction, nil
}

// SettleAuction closes an ended auction. Anyone may call it. Without bids the
// token returns to the seller; otherwise the highest bid is split and the
// token goes to the winner. The returned sale is nil when there were no bids.
func (s *AuctionService) SettleAuction(ctx context.Context, caller string, id uint64) (*models.Sale, error) {
	ref := fmt.Sprintf("auction:%d:settle", id)
	var auction *models.Auction
	var sale *models.Sale

	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := lockAuction(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Settled {
			return ErrAlreadySettled
		}
		if s.Now().Before(a.EndTime) {
			return ErrNotYetEnded
		}

		a.Settled = true
		if err := tx.PutAuction(ctx, a); err != nil {
			return err
		}

		recipient := a.Seller
		if a.HasBids() {
			sale, err = distribute(ctx, tx, s.Deps, s.ledger, s.fees, ref, a.Collection, a.TokenID, a.Seller, a.HighestBid)
			if err != nil {
				return err
			}
			sale.Kind = models.SaleKindAuction
			sale.AuctionID = a.ID
			sale.Buyer = a.HighestBidder
			recipient = a.HighestBidder
		}

		if err := s.Registry.TransferFrom(ctx, s.fees.Operator, a.Collection, s.fees.Operator, recipient, a.TokenID); err != nil {
			return transferFailed(err)
		}
		auction = a
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTransferFailed) {
			s.Audit.LogError(ref, caller, err)
		}
		return nil, err
	}

	e := events.Event{
		Type:       events.AuctionSettled,
		Collection: auction.Collection,
		TokenID:    auction.TokenID,
		AuctionID:  id,
		Account:    auction.Seller,
	}
	if sale != nil {
		e.Counterparty = sale.Buyer
		e.Amount = sale.Price
		s.Audit.LogAsset(ref, auction.Collection, auction.TokenID, s.fees.Operator, sale.Buyer)
	} else {
		s.Audit.LogAsset(ref, auction.Collection, auction.TokenID, s.fees.Operator, auction.Seller)
	}
	s.publish(ctx, e)
	s.Logger.Info("Auction settled",
		zap.Uint64("auction_id", id),
		zap.String("settled_by", caller),
		zap.Int64("price", e.Amount))
	return sale, nil
}

// CancelAuction returns the token to the seller. Only an active auction
// without bids can be cancelled.
func (s *AuctionService) CancelAuction(ctx context.Context, caller string, id uint64) (*models.Auction, error) {
	var auction *models.Auction
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := lockAuction(ctx, tx, id)
		if err != nil {
			return err
		}
		if caller != a.Seller {
			return ErrNotSeller
		}
		if a.Settled {
			return ErrAlreadySettled
		}
		if a.HasBids() {
			return ErrHasBids
		}
		if !s.Now().Before(a.EndTime) {
			return ErrAuctionExpired
		}

		a.Settled = true
		a.Cancelled = true
		if err := tx.PutAuction(ctx, a); err != nil {
			return err
		}
		if err := s.Registry.TransferFrom(ctx, s.fees.Operator, a.Collection, s.fees.Operator, a.Seller, a.TokenID); err != nil {
			return transferFailed(err)
		}
		auction = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	ref := fmt.Sprintf("auction:%d:cancel", id)
	s.Audit.LogOperation(ref, caller, "AUCTION_CANCELLED", "token returned to seller")
	s.publish(ctx, events.Event{
		Type:       events.AuctionCancelled,
		Collection: auction.Collection,
		TokenID:    auction.TokenID,
		AuctionID:  id,
		Account:    caller,
	})
	return auction, nil
}

func (s *AuctionService) Auction(ctx context.Context, id uint64) (*models.Auction, error) {
	a, err := s.Store.Auction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAuctionNotFound
	}
	return a, err
}

// AuctionCounter returns the id of the most recently created auction.
func (s *AuctionService) AuctionCounter(ctx context.Context) (uint64, error) {
	return s.Store.AuctionCounter(ctx)
}

// SettleExpired settles up to limit auctions whose end time has passed and
// returns how many were settled. Failures are logged and skipped.
func (s *AuctionService) SettleExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.Store.ExpiredAuctions(ctx, s.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired auctions: %w", err)
	}

	settled := 0
	for _, a := range expired {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		_, err := s.SettleAuction(ctx, s.fees.Operator, a.ID)
		switch {
		case err == nil:
			settled++
		case errors.Is(err, ErrAlreadySettled):
		default:
			s.Logger.Error("Failed to settle expired auction", zap.Uint64("auction_id", a.ID), zap.Error(err))
		}
	}
	return settled, nil
}

// RunKeeper calls SettleExpired every interval until ctx is done.
func (s *AuctionService) RunKeeper(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Logger.Info("Settlement keeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("Settlement keeper stopped")
			return
		case <-ticker.C:
			n, err := s.SettleExpired(ctx, batchSize)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.Logger.Error("Settlement sweep failed", zap.Error(err))
			}
			if n > 0 {
				s.Logger.Info("Settled expired auctions", zap.Int("count", n))
			}
		}
	}
}

func lockAuction(ctx context.Context, tx store.Tx, id uint64) (*models.Auction, error) {
	a, err := tx.Auction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAuctionNotFound
	}
	return a, err
}
