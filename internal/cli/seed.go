package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/booksage/bookbuy-agent/internal/infrastructure/server"
	"github.com/booksage/bookbuy-agent/internal/usecase/catalog"
)

func newSeedCmd() *cobra.Command {
	var (
		path          string
		batchSize     int
		appendReviews bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a JSON book catalog into the vector index and review store",
		Long: `Reads a JSON array of books ({title, authors, published_date, categories,
book_length, description, reviews:[{summary, score}]}), embeds every description,
upserts the books into Qdrant and stores their reviews.`,
		Example: `  bookbuy-agent seed --catalog books.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open catalog: %w", err)
			}
			defer func() { _ = file.Close() }()

			books, err := catalog.Decode(file)
			if err != nil {
				return err
			}

			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := catalog.NewSeeder(app.DocEmbedder, app.Books, app.Reviews, batchSize).Seed(cmd.Context(), books, appendReviews)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		},
	}

	cmd.Flags().StringVar(&path, "catalog", "", "path to the JSON catalog")
	cmd.Flags().IntVar(&batchSize, "batch-size", 64, "descriptions embedded per request")
	cmd.Flags().BoolVar(&appendReviews, "append-reviews", false, "insert reviews even when the table already has rows")
	_ = cmd.MarkFlagRequired("catalog")

	return cmd
}
