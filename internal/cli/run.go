package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/infrastructure/server"
	"github.com/booksage/bookbuy-agent/internal/usecase/agent"
)

type runner interface {
	Execute(ctx context.Context, req agent.Request) *model.AgentResult
}

type runFlags struct {
	prompt       string
	address      string
	paymentToken string
	preferences  []string
	disliked     []string
	read         []string
	maxPrice     float64
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a single run and print its JSON result",
		Example: `  bookbuy-agent run --prompt "a theoretical astrology book" \
    --address "Nofit Hol, Haifa" --payment-token 1234567 \
    --preference astrology --preference "book length: around 400 pages" \
    --read "The House on Mango Street" --max-price 60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			req := f.request()
			if !cmd.Flags().Changed("max-price") {
				req.MaxPrice = nil
			}
			return executeRun(cmd.Context(), app.Orchestrator, req, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&f.prompt, "prompt", "", "free-text description of the wanted book")
	cmd.Flags().StringVar(&f.address, "address", "", "shipping address")
	cmd.Flags().StringVar(&f.paymentToken, "payment-token", "", "opaque payment token")
	cmd.Flags().StringArrayVar(&f.preferences, "preference", nil, "book preference, repeatable")
	cmd.Flags().StringArrayVar(&f.disliked, "disliked", nil, "disliked title, repeatable")
	cmd.Flags().StringArrayVar(&f.read, "read", nil, "already read title, repeatable")
	cmd.Flags().Float64Var(&f.maxPrice, "max-price", 0, "reject offers above this price")
	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}

func (f runFlags) request() agent.Request {
	maxPrice := f.maxPrice
	return agent.Request{
		Prompt: f.prompt,
		Profile: model.UserProfile{
			Preferences:  f.preferences,
			Disliked:     f.disliked,
			AlreadyRead:  f.read,
			Address:      f.address,
			PaymentToken: f.paymentToken,
		},
		MaxPrice: &maxPrice,
	}
}

func executeRun(ctx context.Context, r runner, req agent.Request, w io.Writer) error {
	result := r.Execute(ctx, req)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
