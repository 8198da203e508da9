package handlers

import (
	"net/http"

	"github.com/galleryhq/marketplace/internal/services"
	"go.uber.org/zap"
)

type MarketHandler struct {
	service   *services.MarketplaceService
	validator *ValidationHelper
	log       *zap.Logger
}

func NewMarketHandler(service *services.MarketplaceService, log *zap.Logger) *MarketHandler {
	return &MarketHandler{
		service:   service,
		validator: NewValidationHelper(),
		log:       log,
	}
}

// ListItem lists a token at a fixed price
// @Summary List token
// @Tags Listings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{collection=string,tokenId=int,price=int} true "Listing"
// @Success 201 {object} models.Listing
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /listings [post]
func (h *MarketHandler) ListItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req struct {
		Collection string `json:"collection" validate:"required,eth_addr"`
		TokenID    uint64 `json:"tokenId" validate:"required"`
		Price      int64  `json:"price"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	listing, err := h.service.ListItem(r.Context(), caller, normalize(req.Collection), req.TokenID, req.Price)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusCreated, listing)
}

// GetListing returns the listing for a token
// @Summary Get listing
// @Tags Listings
// @Produce json
// @Param collection path string true "Collection address"
// @Param tokenId path int true "Token id"
// @Success 200 {object} models.Listing
// @Failure 404 {object} ErrorResponse
// @Router /listings/{collection}/{tokenId} [get]
func (h *MarketHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, ok := tokenParams(w, r)
	if !ok {
		return
	}
	listing, err := h.service.Listing(r.Context(), collection, tokenID)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusOK, listing)
}

// CancelListing removes the caller's listing
// @Summary Cancel listing
// @Tags Listings
// @Security BearerAuth
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /listings/{collection}/{tokenId} [delete]
func (h *MarketHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, tokenID, ok := tokenParams(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelListing(r.Context(), caller, collection, tokenID); err != nil {
		sendError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BuyItem buys a listed token paying exactly its price
// @Summary Buy token
// @Tags Listings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int} true "Payment"
// @Success 200 {object} models.Sale
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /listings/{collection}/{tokenId}/buy [post]
func (h *MarketHandler) BuyItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, tokenID, ok := tokenParams(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	sale, err := h.service.BuyItem(r.Context(), caller, collection, tokenID, req.Amount)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusOK, sale)
}
