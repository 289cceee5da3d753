package cli

import (
	"github.com/spf13/cobra"

	"github.com/booksage/bookbuy-agent/internal/infrastructure/server"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Example: `  # Serve on the address from BB_HTTP_ADDR (default :8080)
  bookbuy-agent serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logx.Info().Str("env", cfg.Environment().String()).Msg("[System] Starting bookbuy-agent")
			return server.New(cfg).Run()
		},
	}
}
