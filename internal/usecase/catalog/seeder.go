// Package catalog loads a book catalog into the vector index and the review store.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/booksage/bookbuy-agent/internal/database"
	"github.com/booksage/bookbuy-agent/internal/database/models"
	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

const defaultBatchSize = 64

var ErrEmptyCatalog = errors.New("catalog contains no books")

// Result summarizes one seeding pass.
type Result struct {
	Books          int  `json:"books"`
	Reviews        int  `json:"reviews"`
	ReviewsSkipped bool `json:"reviews_skipped"`
}

// Seeder embeds catalog descriptions, upserts them and stores their reviews.
type Seeder struct {
	embedder  repository.EmbeddingClient
	index     repository.BookIndexRepository
	ratings   database.RatingRepository
	batchSize int
}

func NewSeeder(embedder repository.EmbeddingClient, index repository.BookIndexRepository, ratings database.RatingRepository, batchSize int) *Seeder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Seeder{embedder: embedder, index: index, ratings: ratings, batchSize: batchSize}
}

// Decode reads a JSON array of catalog entries, dropping entries without a title.
func Decode(r io.Reader) ([]model.CatalogBook, error) {
	var books []model.CatalogBook
	if err := json.NewDecoder(r).Decode(&books); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	out := books[:0]
	for _, b := range books {
		b.Title = strings.TrimSpace(b.Title)
		if b.Title == "" {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, ErrEmptyCatalog
	}
	return out, nil
}

// Seed indexes books in batches. Reviews are only inserted into an empty table
// unless appendReviews is set, so re-running a seed does not duplicate them.
func (s *Seeder) Seed(ctx context.Context, books []model.CatalogBook, appendReviews bool) (Result, error) {
	if len(books) == 0 {
		return Result{}, ErrEmptyCatalog
	}

	var res Result
	for start := 0; start < len(books); start += s.batchSize {
		batch := books[start:min(start+s.batchSize, len(books))]

		texts := make([]string, len(batch))
		for i, b := range batch {
			texts[i] = embeddingText(b)
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return res, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if err := s.index.UpsertBooks(ctx, batch, vectors); err != nil {
			return res, fmt.Errorf("upsert batch at %d: %w", start, err)
		}
		res.Books += len(batch)
		logx.Info().Int("indexed", res.Books).Int("total", len(books)).Msg("[Seed] Batch indexed")
	}

	existing, err := s.ratings.CountRatings(ctx)
	if err != nil {
		return res, fmt.Errorf("count ratings: %w", err)
	}
	if existing > 0 && !appendReviews {
		logx.Info().Int("existing", existing).Msg("[Seed] Review table not empty, skipping reviews")
		res.ReviewsSkipped = true
		return res, nil
	}

	var ratings []*models.BookRating
	for _, b := range books {
		for _, r := range b.Reviews {
			if strings.TrimSpace(r.Summary) == "" {
				continue
			}
			ratings = append(ratings, &models.BookRating{Title: b.Title, ReviewSummary: r.Summary, ReviewScore: r.Score})
		}
	}
	if err := s.ratings.InsertRatings(ctx, ratings); err != nil {
		return res, err
	}
	res.Reviews = len(ratings)
	logx.Info().Int("books", res.Books).Int("reviews", res.Reviews).Msg("[Seed] Catalog loaded")
	return res, nil
}

// embeddingText is the description, or the title when a book has none.
func embeddingText(b model.CatalogBook) string {
	if d := strings.TrimSpace(b.Description); d != "" {
		return d
	}
	return b.Title
}
