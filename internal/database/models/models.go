package models

import (
	"github.com/uptrace/bun"
)

// BookRating is one reader review of a catalog title.
type BookRating struct {
	bun.BaseModel `bun:"table:books_ratings,alias:br"`

	ID            int64   `bun:",pk,autoincrement"`
	Title         string  `bun:",notnull"`
	ReviewSummary string  `bun:",notnull"`
	ReviewScore   float64 `bun:",notnull"`
}
