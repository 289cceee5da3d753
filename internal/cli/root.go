// Package cli holds the bookbuy-agent commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/booksage/bookbuy-agent/internal/config"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookbuy-agent",
		Short: "Autonomous agent that picks a book, compares shop prices and buys it",
		Long: `bookbuy-agent recommends a book for a free-text request, looks it up at every
configured shop and buys the cheapest in-stock offer, retrying with another
title when a purchase is not possible.

Configuration is read from BB_* environment variables and an optional .env file.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd(), newRunCmd(), newSeedCmd())
	return cmd
}

// loadConfig reads the configuration and initializes logging for it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment()})
	return cfg, nil
}
