package repository

import (
	"context"

	"github.com/booksage/bookbuy-agent/internal/domain/model"
)

// BookSearchRepository finds books whose descriptions are close to a query vector.
type BookSearchRepository interface {
	SearchBooks(ctx context.Context, vector []float32, limit int, excluded []string) ([]model.CandidateBook, error)
}

// BookIndexRepository writes catalog entries and their description vectors.
type BookIndexRepository interface {
	UpsertBooks(ctx context.Context, books []model.CatalogBook, vectors [][]float32) error
}

// ReviewRepository reads stored reviews for a title.
type ReviewRepository interface {
	ReviewsForTitle(ctx context.Context, title string, limit int) ([]model.Review, error)
}

// RunRepository persists finished run traces.
type RunRepository interface {
	SaveRun(ctx context.Context, run *model.AgentResult) error
	GetRun(ctx context.Context, runID string) (*model.AgentResult, error)
}
