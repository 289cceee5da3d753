package repository

import (
	"context"

	"github.com/booksage/bookbuy-agent/internal/domain/model"
)

// RetailerClient talks to the shops' search and purchase endpoints.
type RetailerClient interface {
	Search(ctx context.Context, shop, title string) (*model.Listing, error)
	Buy(ctx context.Context, shop string, order model.Order) (*model.Receipt, error)
}
