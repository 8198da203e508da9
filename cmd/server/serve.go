package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/galleryhq/marketplace/internal/handlers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the settlement keeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.db != nil {
			if err := migrate(ctx, a.db); err != nil {
				return err
			}
		}

		server := &http.Server{
			Addr: ":" + a.cfg.Server.Port,
			Handler: handlers.NewRouter(handlers.RouterConfig{
				Market:      a.market,
				Auctions:    a.auctions,
				Ledger:      a.ledger,
				Collections: a.registry,
				JWTSecret:   a.cfg.JWT.SecretKey,
				Logger:      a.logger,
			}),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		var wg sync.WaitGroup
		if a.cfg.Keeper.Interval > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.auctions.RunKeeper(ctx, a.cfg.Keeper.Interval, a.cfg.Keeper.BatchSize)
			}()
		}

		serverErr := make(chan error, 1)
		go func() {
			a.logger.Info("Server starting", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			a.logger.Info("Server shutting down", zap.String("signal", sig.String()))
		case err := <-serverErr:
			a.logger.Error("Server failed", zap.Error(err))
			cancel()
			wg.Wait()
			return err
		}

		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Server forced to shutdown", zap.Error(err))
		}
		wg.Wait()

		a.logger.Info("Server stopped")
		return nil
	},
}
