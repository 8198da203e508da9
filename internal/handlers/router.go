package handlers

import (
	"net/http"
	"time"

	mw "github.com/galleryhq/marketplace/internal/middleware"
	"github.com/galleryhq/marketplace/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Market      *services.MarketplaceService
	Auctions    *services.AuctionService
	Ledger      *services.LedgerService
	Collections CollectionFactory
	JWTSecret   string
	Logger      *zap.Logger
	Now         func() time.Time
}

// NewRouter mounts the marketplace API under /api/v1. Reads are public;
// anything that acts for an account requires a bearer token.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.L()
	}

	market := NewMarketHandler(cfg.Market, log)
	auctions := NewAuctionHandler(cfg.Auctions, log, cfg.Now)
	ledger := NewLedgerHandler(cfg.Ledger, log)
	collections := NewCollectionHandler(cfg.Collections, log)

	r := chi.NewRouter()

	r.Use(mw.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/listings/{collection}/{tokenId}", market.GetListing)
		r.Get("/auctions/counter", auctions.GetCounter)
		r.Get("/auctions/{id}", auctions.GetAuction)
		r.Get("/balances/{account}", ledger.GetBalance)
		r.Get("/balances/{account}/entries", ledger.GetEntries)
		r.Get("/collections/{collection}", collections.GetCollection)
		r.Get("/collections/{collection}/tokens/{tokenId}", collections.GetToken)
		r.Get("/artists/{artist}/collections", collections.ListByArtist)

		r.Group(func(r chi.Router) {
			r.Use(mw.NewAuthMiddleware(cfg.JWTSecret))

			r.Post("/listings", market.ListItem)
			r.Delete("/listings/{collection}/{tokenId}", market.CancelListing)
			r.Post("/listings/{collection}/{tokenId}/buy", market.BuyItem)

			r.Post("/auctions", auctions.CreateAuction)
			r.Post("/auctions/{id}/bids", auctions.Bid)
			r.Post("/auctions/{id}/settle", auctions.Settle)
			r.Post("/auctions/{id}/cancel", auctions.Cancel)

			r.Post("/withdrawals", ledger.Withdraw)

			r.Post("/collections", collections.CreateCollection)
			r.Post("/collections/{collection}/mint", collections.Mint)
			r.Post("/collections/{collection}/tokens/{tokenId}/approve", collections.Approve)
		})
	})

	return r
}
