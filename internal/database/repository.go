package database

import (
	"context"

	"github.com/booksage/bookbuy-agent/internal/database/models"
)

// RatingRepository handles review persistence for the books_ratings table.
type RatingRepository interface {
	InsertRatings(ctx context.Context, ratings []*models.BookRating) error
	CountRatings(ctx context.Context) (int, error)
}
