package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/galleryhq/marketplace/internal/events"
	"github.com/galleryhq/marketplace/internal/models"
	"github.com/galleryhq/marketplace/internal/payment"
	"github.com/galleryhq/marketplace/internal/registry"
	"github.com/galleryhq/marketplace/internal/services"
	"github.com/galleryhq/marketplace/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret = "handler-test-secret-key"
	factory    = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	operator   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	platform   = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	artist     = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
	seller     = "0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65"
	buyer      = "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	wallets *payment.Wallets
	clock   *clock
}

func newTestAPI(t *testing.T) *testAPI {
	wallets := payment.NewWallets()
	reg := registry.NewMemory(factory, wallets)
	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	deps := services.Deps{
		Store:    store.NewMemory(),
		Registry: reg,
		Payments: wallets,
		Events:   &events.Recorder{},
		Logger:   zap.NewNop(),
		Now:      clk.Now,
	}
	cfg := services.FeeConfig{Operator: operator, PlatformAccount: platform, PlatformFeeBps: 250}
	ledger := services.NewLedgerService(deps)

	return &testAPI{
		t: t,
		handler: NewRouter(RouterConfig{
			Market:      services.NewMarketplaceService(deps, ledger, cfg),
			Auctions:    services.NewAuctionService(deps, ledger, cfg),
			Ledger:      ledger,
			Collections: reg,
			JWTSecret:   testSecret,
			Logger:      zap.NewNop(),
			Now:         clk.Now,
		}),
		wallets: wallets,
		clock:   clk,
	}
}

func (a *testAPI) do(method, path, caller string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"address": caller,
			"exp":     time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(testSecret))
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// mintApproved creates a collection for artist and mints one token to owner
// approved for the operator.
func (a *testAPI) mintApproved(owner string) (string, uint64) {
	a.t.Helper()
	rr := a.do(http.MethodPost, "/api/v1/collections", artist, map[string]any{
		"name": "Gallery", "symbol": "GAL", "baseUri": "ipfs://gallery/", "royaltyBps": 500, "mintFee": 0,
	})
	require.Equal(a.t, http.StatusCreated, rr.Code, rr.Body.String())
	coll := decode[models.Collection](a.t, rr)

	rr = a.do(http.MethodPost, "/api/v1/collections/"+coll.Address+"/mint", owner, map[string]any{"tokenUri": "ipfs://gallery/1.json", "fee": 0})
	require.Equal(a.t, http.StatusCreated, rr.Code, rr.Body.String())
	token := decode[models.Token](a.t, rr)

	path := fmt.Sprintf("/api/v1/collections/%s/tokens/%d/approve", coll.Address, token.TokenID)
	rr = a.do(http.MethodPost, path, owner, map[string]any{"spender": operator})
	require.Equal(a.t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(a.t, operator, decode[models.Token](a.t, rr).Approved)

	return coll.Address, token.TokenID
}

func TestRouter_Health(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rr.Body.String())
}

func TestRouter_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rr := api.do(http.MethodPost, "/api/v1/withdrawals", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[ErrorResponse](t, rr).Code)
}

func TestRouter_ListingLifecycle(t *testing.T) {
	api := newTestAPI(t)
	coll, tokenID := api.mintApproved(seller)
	listingPath := fmt.Sprintf("/api/v1/listings/%s/%d", coll, tokenID)
	require.NoError(t, api.wallets.Deposit(buyer, 1_000_000))

	t.Run("validation errors carry details", func(t *testing.T) {
		rr := api.do(http.MethodPost, "/api/v1/listings", seller, map[string]any{"collection": "nope", "tokenId": tokenID, "price": 1})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decode[ErrorResponse](t, rr)
		assert.Equal(t, "VALIDATION_FAILED", resp.Code)
		assert.Contains(t, resp.Details, "Collection")
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rr := api.do(http.MethodPost, "/api/v1/listings", seller, map[string]any{"collection": coll, "tokenId": tokenID, "price": 1, "extra": true})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, rr).Code)
	})

	t.Run("zero price", func(t *testing.T) {
		rr := api.do(http.MethodPost, "/api/v1/listings", seller, map[string]any{"collection": coll, "tokenId": tokenID, "price": 0})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "INVALID_PRICE", decode[ErrorResponse](t, rr).Code)
	})

	t.Run("not the owner", func(t *testing.T) {
		rr := api.do(http.MethodPost, "/api/v1/listings", buyer, map[string]any{"collection": coll, "tokenId": tokenID, "price": 1_000_000})
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "NOT_OWNER", decode[ErrorResponse](t, rr).Code)
	})

	t.Run("list", func(t *testing.T) {
		rr := api.do(http.MethodPost, "/api/v1/listings", seller, map[string]any{"collection": coll, "tokenId": tokenID, "price": 1_000_000})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		rr = api.do(http.MethodGet, listingPath, "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, int64(1_000_000), decode[models.Listing](t, rr).Price)
	})

	t.Run("wrong payment", func(t *testing.T) {
		rr := api.do(http.MethodPost, listingPath+"/buy", buyer, map[string]any{"amount": 999_999})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "INCORRECT_PRICE", decode[ErrorResponse](t, rr).Code)
	})

	t.Run("buy", func(t *testing.T) {
		rr := api.do(http.MethodPost, listingPath+"/buy", buyer, map[string]any{"amount": 1_000_000})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		sale := decode[models.Sale](t, rr)
		assert.Equal(t, int64(925_000), sale.SellerProceeds)

		rr = api.do(http.MethodGet, fmt.Sprintf("/api/v1/collections/%s/tokens/%d", coll, tokenID), "", nil)
		assert.Equal(t, buyer, decode[models.Token](t, rr).Owner)

		rr = api.do(http.MethodGet, listingPath, "", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "NO_LISTING", decode[ErrorResponse](t, rr).Code)
	})

	t.Run("withdraw proceeds", func(t *testing.T) {
		rr := api.do(http.MethodGet, "/api/v1/balances/"+seller, "", nil)
		assert.JSONEq(t, fmt.Sprintf(`{"account":%q,"balance":925000}`, seller), rr.Body.String())

		rr = api.do(http.MethodPost, "/api/v1/withdrawals", seller, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, int64(925_000), api.wallets.Balance(seller))

		rr = api.do(http.MethodPost, "/api/v1/withdrawals", seller, nil)
		assert.Equal(t, "NOTHING_TO_WITHDRAW", decode[ErrorResponse](t, rr).Code)

		rr = api.do(http.MethodGet, "/api/v1/balances/"+seller+"/entries?limit=1", "", nil)
		entries := decode[[]models.LedgerEntry](t, rr)
		require.Len(t, entries, 1)
		assert.Equal(t, models.ReasonWithdrawal, entries[0].Reason)
	})
}

func TestRouter_AuctionLifecycle(t *testing.T) {
	api := newTestAPI(t)
	coll, tokenID := api.mintApproved(seller)
	require.NoError(t, api.wallets.Deposit(buyer, 1_000))

	rr := api.do(http.MethodPost, "/api/v1/auctions", seller, map[string]any{
		"collection": coll, "tokenId": tokenID, "startPrice": 100, "durationSeconds": 0,
	})
	assert.Equal(t, "INVALID_DURATION", decode[ErrorResponse](t, rr).Code)

	// 2^63 ns is about 292 years; a larger duration must not wrap.
	rr = api.do(http.MethodPost, "/api/v1/auctions", seller, map[string]any{
		"collection": coll, "tokenId": tokenID, "startPrice": 100, "durationSeconds": int64(9_300_000_000),
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decode[ErrorResponse](t, rr)
	assert.Equal(t, "VALIDATION_FAILED", resp.Code)
	assert.Equal(t, "Field Validation Failed on 'max' tag", resp.Details["DurationSeconds"])

	rr = api.do(http.MethodPost, "/api/v1/auctions", seller, map[string]any{
		"collection": coll, "tokenId": tokenID, "startPrice": 100, "durationSeconds": 3600,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[map[string]any](t, rr)
	assert.Equal(t, "ACTIVE", created["state"])
	assert.Equal(t, float64(1), created["id"])

	rr = api.do(http.MethodGet, "/api/v1/auctions/counter", "", nil)
	assert.JSONEq(t, `{"counter":1}`, rr.Body.String())

	rr = api.do(http.MethodPost, "/api/v1/auctions/1/bids", seller, map[string]any{"amount": 100})
	assert.Equal(t, "SELLER_CANNOT_BID", decode[ErrorResponse](t, rr).Code)

	rr = api.do(http.MethodPost, "/api/v1/auctions/1/bids", buyer, map[string]any{"amount": 100})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, float64(105), decode[map[string]any](t, rr)["minimumBid"])

	rr = api.do(http.MethodPost, "/api/v1/auctions/1/cancel", seller, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "HAS_BIDS", decode[ErrorResponse](t, rr).Code)

	rr = api.do(http.MethodPost, "/api/v1/auctions/1/settle", buyer, nil)
	assert.Equal(t, "NOT_YET_ENDED", decode[ErrorResponse](t, rr).Code)

	api.clock.Advance(time.Hour)

	rr = api.do(http.MethodGet, "/api/v1/auctions/1", "", nil)
	assert.Equal(t, "EXPIRED", decode[map[string]any](t, rr)["state"])

	rr = api.do(http.MethodPost, "/api/v1/auctions/1/settle", buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = api.do(http.MethodPost, "/api/v1/auctions/1/settle", buyer, nil)
	assert.Equal(t, "ALREADY_SETTLED", decode[ErrorResponse](t, rr).Code)

	rr = api.do(http.MethodGet, "/api/v1/auctions/2", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "AUCTION_NOT_FOUND", decode[ErrorResponse](t, rr).Code)

	rr = api.do(http.MethodGet, "/api/v1/auctions/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_Collections(t *testing.T) {
	api := newTestAPI(t)
	coll, _ := api.mintApproved(seller)

	rr := api.do(http.MethodGet, "/api/v1/artists/"+artist+"/collections", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]models.Collection](t, rr)
	require.Len(t, list, 1)
	assert.Equal(t, coll, list[0].Address)

	rr = api.do(http.MethodPost, "/api/v1/collections", artist, map[string]any{"name": "X", "symbol": "X", "royaltyBps": 10_001})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_FAILED", decode[ErrorResponse](t, rr).Code)

	rr = api.do(http.MethodGet, "/api/v1/collections/0x0000000000000000000000000000000000000001", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "UNKNOWN_COLLECTION", decode[ErrorResponse](t, rr).Code)

	rr = api.do(http.MethodPost, fmt.Sprintf("/api/v1/collections/%s/tokens/1/approve", coll), buyer, map[string]any{"spender": buyer})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "NOT_AUTHORIZED", decode[ErrorResponse](t, rr).Code)
}
