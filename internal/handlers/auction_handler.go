package handlers

import (
	"net/http"
	"time"

	"github.com/galleryhq/marketplace/internal/models"
	"github.com/galleryhq/marketplace/internal/services"
	"go.uber.org/zap"
)

type AuctionHandler struct {
	service   *services.AuctionService
	validator *ValidationHelper
	log       *zap.Logger
	now       func() time.Time
}

func NewAuctionHandler(service *services.AuctionService, log *zap.Logger, now func() time.Time) *AuctionHandler {
	if now == nil {
		now = time.Now
	}
	return &AuctionHandler{
		service:   service,
		validator: NewValidationHelper(),
		log:       log,
		now:       now,
	}
}

type auctionResponse struct {
	*models.Auction
	State      models.AuctionState `json:"state"`
	MinimumBid *int64              `json:"minimumBid,omitempty"`
}

func (h *AuctionHandler) respond(w http.ResponseWriter, status int, a *models.Auction) {
	resp := auctionResponse{
		Auction: a,
		State:   a.State(h.now()),
	}
	if minimum, ok := a.MinimumBid(); ok {
		resp.MinimumBid = &minimum
	}
	sendJSON(w, status, resp)
}

// CreateAuction escrows a token and opens an auction
// @Summary Create auction
// @Tags Auctions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{collection=string,tokenId=int,startPrice=int,durationSeconds=int} true "Auction"
// @Success 201 {object} auctionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /auctions [post]
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req struct {
		Collection      string `json:"collection" validate:"required,eth_addr"`
		TokenID         uint64 `json:"tokenId" validate:"required"`
		StartPrice      int64  `json:"startPrice"`
		DurationSeconds int64  `json:"durationSeconds" validate:"max=315360000"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	a, err := h.service.CreateAuction(r.Context(), caller, normalize(req.Collection), req.TokenID,
		req.StartPrice, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	h.respond(w, http.StatusCreated, a)
}

// GetAuction returns an auction with its derived state
// @Summary Get auction
// @Tags Auctions
// @Produce json
// @Param id path int true "Auction id"
// @Success 200 {object} auctionResponse
// @Failure 404 {object} ErrorResponse
// @Router /auctions/{id} [get]
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	a, err := h.service.Auction(r.Context(), id)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	h.respond(w, http.StatusOK, a)
}

// GetCounter returns the id of the latest auction
// @Summary Auction counter
// @Tags Auctions
// @Produce json
// @Success 200 {object} object{counter=int}
// @Router /auctions/counter [get]
func (h *AuctionHandler) GetCounter(w http.ResponseWriter, r *http.Request) {
	counter, err := h.service.AuctionCounter(r.Context())
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]uint64{"counter": counter})
}

// Bid places a bid
// @Summary Bid
// @Tags Auctions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int} true "Bid"
// @Success 200 {object} auctionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auctions/{id}/bids [post]
func (h *AuctionHandler) Bid(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	a, err := h.service.Bid(r.Context(), caller, id, req.Amount)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	h.respond(w, http.StatusOK, a)
}

// Settle closes an ended auction
// @Summary Settle auction
// @Tags Auctions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{settled=bool,sale=models.Sale}
// @Failure 409 {object} ErrorResponse
// @Router /auctions/{id}/settle [post]
func (h *AuctionHandler) Settle(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}

	sale, err := h.service.SettleAuction(r.Context(), caller, id)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{"settled": true, "sale": sale})
}

// Cancel cancels an auction without bids
// @Summary Cancel auction
// @Tags Auctions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} auctionResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auctions/{id}/cancel [post]
func (h *AuctionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := uintParam(w, r, "id")
	if !ok {
		return
	}

	a, err := h.service.CancelAuction(r.Context(), caller, id)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	h.respond(w, http.StatusOK, a)
}
