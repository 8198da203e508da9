package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/galleryhq/marketplace/internal/audit"
	"github.com/galleryhq/marketplace/internal/config"
	"github.com/galleryhq/marketplace/internal/database"
	"github.com/galleryhq/marketplace/internal/events"
	"github.com/galleryhq/marketplace/internal/log"
	"github.com/galleryhq/marketplace/internal/payment"
	"github.com/galleryhq/marketplace/internal/registry"
	"github.com/galleryhq/marketplace/internal/services"
	"github.com/galleryhq/marketplace/internal/store"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *sql.DB
	redis    *redis.Client
	registry *registry.Memory
	market   *services.MarketplaceService
	auctions *services.AuctionService
	ledger   *services.LedgerService
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, fileRead, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	logger := log.NewLogger(cfg.Log.Path, cfg.Log.Debug)
	if !fileRead {
		logger.Info("Config file not found, using defaults and environment", zap.String("file", configFile))
	}
	return cfg, logger, nil
}

// newApp wires the engines over the configured store. The postgres store
// keeps payments in the same database; the memory store uses in-process
// wallets.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	var st store.Store
	var payments payment.Gateway
	switch cfg.Marketplace.Store {
	case config.StorePostgres:
		db, err := database.InitDB(ctx)
		if err != nil {
			return nil, err
		}
		a.db = db
		st = store.NewPostgres(db)
		payments = payment.NewSQLGateway(db, cfg.Marketplace.EscrowAccount)
	default:
		st = store.NewMemory()
		payments = payment.NewWallets()
	}

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if rdb := database.InitRedis(ctx); rdb != nil {
		a.redis = rdb
		publisher = events.NewRedisPublisher(rdb, cfg.Events.Queue)
	}

	a.registry = registry.NewMemory(cfg.Marketplace.FactoryAddress, payments)

	deps := services.Deps{
		Store:    st,
		Registry: a.registry,
		Payments: payments,
		Events:   publisher,
		Audit:    audit.NewLogger(logger),
		Logger:   logger,
	}
	fees := services.FeeConfig{
		Operator:        cfg.Marketplace.Operator,
		PlatformAccount: cfg.Marketplace.PlatformAccount,
		PlatformFeeBps:  cfg.Marketplace.PlatformFeeBps,
	}
	a.ledger = services.NewLedgerService(deps)
	a.market = services.NewMarketplaceService(deps, a.ledger, fees)
	a.auctions = services.NewAuctionService(deps, a.ledger, fees)

	logger.Info("Marketplace initialised",
		zap.String("store", cfg.Marketplace.Store),
		zap.String("operator", fees.Operator),
		zap.Int64("platform_fee_bps", fees.PlatformFeeBps),
		zap.Bool("redis", a.redis != nil))
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func migrate(ctx context.Context, db *sql.DB) error {
	if err := store.NewPostgres(db).Migrate(ctx); err != nil {
		return fmt.Errorf("migrate marketplace schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, payment.Schema); err != nil {
		return fmt.Errorf("migrate payment schema: %w", err)
	}
	return nil
}
