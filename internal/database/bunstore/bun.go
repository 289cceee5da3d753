package bunstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"

	"github.com/booksage/bookbuy-agent/internal/database"
	"github.com/booksage/bookbuy-agent/internal/database/models"
	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
)

var (
	_ repository.ReviewRepository = (*BunStore)(nil)
	_ database.RatingRepository   = (*BunStore)(nil)
)

type BunStore struct {
	db *bun.DB
}

// OpenSQLite opens the review database through the sqlite shim and returns a ready store.
func OpenSQLite(ctx context.Context, dsn string) (*BunStore, error) {
	db, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// Single writer keeps shared-cache in-memory databases consistent across queries.
	db.SetMaxOpenConns(1)

	store, err := NewBunStore(ctx, db, sqlitedialect.New())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func NewBunStore(ctx context.Context, db *sql.DB, dialect schema.Dialect) (*BunStore, error) {
	bunDB := bun.NewDB(db, dialect)

	store := &BunStore{db: bunDB}

	if _, err := bunDB.NewCreateTable().Model((*models.BookRating)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create books_ratings table: %w", err)
	}
	if _, err := bunDB.NewCreateIndex().
		Model((*models.BookRating)(nil)).
		Index("books_ratings_title_idx").
		Column("title").
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create books_ratings index: %w", err)
	}

	return store, nil
}

// ReviewsForTitle returns at most limit reviews for title in insertion order.
// A title without reviews yields an empty slice, not an error.
func (s *BunStore) ReviewsForTitle(ctx context.Context, title string, limit int) ([]model.Review, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []*models.BookRating
	if err := s.db.NewSelect().
		Model(&rows).
		Where("title = ?", title).
		Order("id ASC").
		Limit(limit).
		Scan(ctx); err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	reviews := make([]model.Review, 0, len(rows))
	for _, r := range rows {
		reviews = append(reviews, model.Review{Summary: r.ReviewSummary, Score: r.ReviewScore})
	}
	return reviews, nil
}

func (s *BunStore) InsertRatings(ctx context.Context, ratings []*models.BookRating) error {
	if len(ratings) == 0 {
		return nil
	}
	if _, err := s.db.NewInsert().Model(&ratings).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert %d ratings: %w", len(ratings), err)
	}
	return nil
}

func (s *BunStore) CountRatings(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*models.BookRating)(nil)).Count(ctx)
}

func (s *BunStore) Close() error {
	return s.db.Close()
}
