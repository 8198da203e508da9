package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "marketd",
	Short: "NFT marketplace settlement service",
	Long:  "Fixed-price listings, English auctions and pull-payment balances for NFT collections.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", ".env", "config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
