package main

import (
	"context"
	"time"

	"github.com/galleryhq/marketplace/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		db, err := database.InitDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("Schema is up to date")
		return nil
	},
}

var sweepBatch int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Settle every auction whose end time has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		batch := sweepBatch
		if batch <= 0 {
			batch = a.cfg.Keeper.BatchSize
		}

		total := 0
		for {
			n, err := a.auctions.SettleExpired(ctx, batch)
			if err != nil {
				return err
			}
			total += n
			if n < batch {
				break
			}
		}
		a.logger.Info("Sweep finished", zap.Int("settled", total))
		return nil
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepBatch, "batch", 0, "auctions settled per round (defaults to keeper.batch_size)")
}
