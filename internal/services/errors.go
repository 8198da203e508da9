package services

import (
	"errors"
	"net/http"
)

// MarketError is a rejected marketplace operation. Errors are compared by
// identity, so wrap them with %w and match with errors.Is.
type MarketError struct {
	Code    string
	Message string
	Status  int
}

func (e *MarketError) Error() string {
	return e.Message
}

func newMarketError(code, message string, status int) *MarketError {
	return &MarketError{Code: code, Message: message, Status: status}
}

var (
	ErrNotOwner          = newMarketError("NOT_OWNER", "caller does not own the token", http.StatusForbidden)
	ErrNotSeller         = newMarketError("NOT_SELLER", "caller is not the seller", http.StatusForbidden)
	ErrNotApproved       = newMarketError("NOT_APPROVED", "marketplace is not approved for the token", http.StatusForbidden)
	ErrInvalidPrice      = newMarketError("INVALID_PRICE", "price must be positive", http.StatusBadRequest)
	ErrInvalidDuration   = newMarketError("INVALID_DURATION", "duration must be positive", http.StatusBadRequest)
	ErrNoListing         = newMarketError("NO_LISTING", "token is not listed", http.StatusNotFound)
	ErrIncorrectPrice    = newMarketError("INCORRECT_PRICE", "payment does not match the listing price", http.StatusBadRequest)
	ErrAuctionNotFound   = newMarketError("AUCTION_NOT_FOUND", "auction does not exist", http.StatusNotFound)
	ErrAuctionExpired    = newMarketError("AUCTION_EXPIRED", "auction has ended", http.StatusConflict)
	ErrNotYetEnded       = newMarketError("NOT_YET_ENDED", "auction has not ended", http.StatusConflict)
	ErrSellerCannotBid   = newMarketError("SELLER_CANNOT_BID", "seller cannot bid on their own auction", http.StatusForbidden)
	ErrBidTooLow         = newMarketError("BID_TOO_LOW", "bid is below the minimum", http.StatusBadRequest)
	ErrAlreadySettled    = newMarketError("ALREADY_SETTLED", "auction is already settled", http.StatusConflict)
	ErrHasBids           = newMarketError("HAS_BIDS", "auction has bids", http.StatusConflict)
	ErrTransferFailed    = newMarketError("TRANSFER_FAILED", "transfer failed", http.StatusBadGateway)
	ErrNothingToWithdraw = newMarketError("NOTHING_TO_WITHDRAW", "no balance to withdraw", http.StatusBadRequest)
)

// AsMarketError returns the MarketError in err's chain, if any.
func AsMarketError(err error) (*MarketError, bool) {
	var me *MarketError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
