package handlers

import (
	"context"
	"net/http"

	"github.com/galleryhq/marketplace/internal/models"
	"go.uber.org/zap"
)

// CollectionFactory deploys collections and mints their tokens.
type CollectionFactory interface {
	CreateCollection(ctx context.Context, artist, name, symbol, baseURI string, royaltyBps, mintFee int64) (*models.Collection, error)
	Mint(ctx context.Context, minter, collection, tokenURI string, feePaid int64) (uint64, error)
	Collection(ctx context.Context, collection string) (*models.Collection, error)
	CollectionsByArtist(ctx context.Context, artist string) []models.Collection
	Token(ctx context.Context, collection string, tokenID uint64) (*models.Token, error)
	Approve(ctx context.Context, caller, collection, spender string, tokenID uint64) error
}

type CollectionHandler struct {
	factory   CollectionFactory
	validator *ValidationHelper
	log       *zap.Logger
}

func NewCollectionHandler(factory CollectionFactory, log *zap.Logger) *CollectionHandler {
	return &CollectionHandler{
		factory:   factory,
		validator: NewValidationHelper(),
		log:       log,
	}
}

// CreateCollection deploys a collection owned by the caller
// @Summary Create collection
// @Tags Collections
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{name=string,symbol=string,baseUri=string,royaltyBps=int,mintFee=int} true "Collection"
// @Success 201 {object} models.Collection
// @Failure 400 {object} ErrorResponse
// @Router /collections [post]
func (h *CollectionHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req struct {
		Name       string `json:"name" validate:"required,max=64"`
		Symbol     string `json:"symbol" validate:"required,max=16"`
		BaseURI    string `json:"baseUri" validate:"omitempty,uri"`
		RoyaltyBps int64  `json:"royaltyBps" validate:"gte=0,max=10000"`
		MintFee    int64  `json:"mintFee" validate:"gte=0"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	c, err := h.factory.CreateCollection(r.Context(), caller, req.Name, req.Symbol, req.BaseURI, req.RoyaltyBps, req.MintFee)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusCreated, c)
}

// GetCollection returns a collection
// @Summary Get collection
// @Tags Collections
// @Produce json
// @Success 200 {object} models.Collection
// @Failure 404 {object} ErrorResponse
// @Router /collections/{collection} [get]
func (h *CollectionHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	collection, ok := addressParam(w, r, "collection")
	if !ok {
		return
	}
	c, err := h.factory.Collection(r.Context(), collection)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusOK, c)
}

// ListByArtist returns the collections an artist created
// @Summary Artist collections
// @Tags Collections
// @Produce json
// @Success 200 {array} models.Collection
// @Router /artists/{artist}/collections [get]
func (h *CollectionHandler) ListByArtist(w http.ResponseWriter, r *http.Request) {
	artist, ok := addressParam(w, r, "artist")
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, h.factory.CollectionsByArtist(r.Context(), artist))
}

// Mint mints the next token of a collection to the caller
// @Summary Mint
// @Tags Collections
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{tokenUri=string,fee=int} true "Mint"
// @Success 201 {object} models.Token
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Router /collections/{collection}/mint [post]
func (h *CollectionHandler) Mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, ok := addressParam(w, r, "collection")
	if !ok {
		return
	}

	var req struct {
		TokenURI string `json:"tokenUri" validate:"required"`
		Fee      int64  `json:"fee" validate:"gte=0"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	tokenID, err := h.factory.Mint(r.Context(), caller, collection, req.TokenURI, req.Fee)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	token, err := h.factory.Token(r.Context(), collection, tokenID)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusCreated, token)
}

// GetToken returns a token's owner and approval
// @Summary Get token
// @Tags Collections
// @Produce json
// @Success 200 {object} models.Token
// @Failure 404 {object} ErrorResponse
// @Router /collections/{collection}/tokens/{tokenId} [get]
func (h *CollectionHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, ok := tokenParams(w, r)
	if !ok {
		return
	}
	token, err := h.factory.Token(r.Context(), collection, tokenID)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusOK, token)
}

// Approve sets or clears the approved spender of a token
// @Summary Approve
// @Tags Collections
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{spender=string} true "Spender, empty to clear"
// @Success 200 {object} models.Token
// @Failure 403 {object} ErrorResponse
// @Router /collections/{collection}/tokens/{tokenId}/approve [post]
func (h *CollectionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, tokenID, ok := tokenParams(w, r)
	if !ok {
		return
	}

	var req struct {
		Spender string `json:"spender" validate:"omitempty,eth_addr"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	spender := ""
	if req.Spender != "" {
		spender = normalize(req.Spender)
	}
	if err := h.factory.Approve(r.Context(), caller, collection, spender, tokenID); err != nil {
		sendError(w, h.log, err)
		return
	}
	token, err := h.factory.Token(r.Context(), collection, tokenID)
	if err != nil {
		sendError(w, h.log, err)
		return
	}
	sendJSON(w, http.StatusOK, token)
}
