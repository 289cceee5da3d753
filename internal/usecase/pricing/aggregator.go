package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

var errEmptyListing = errors.New("shop returned an empty listing")

// Aggregator canvasses every shop for a title and normalizes the answers into offers.
type Aggregator struct {
	retailer repository.RetailerClient
	shops    []string
	timeout  time.Duration
}

// NewAggregator fixes the canonical shop order used for both querying and tie-breaking.
func NewAggregator(retailer repository.RetailerClient, shops []string, perShopTimeout time.Duration) *Aggregator {
	return &Aggregator{
		retailer: retailer,
		shops:    append([]string(nil), shops...),
		timeout:  perShopTimeout,
	}
}

// Shops returns the canonical shop order.
func (a *Aggregator) Shops() []string {
	return append([]string(nil), a.shops...)
}

// FindPrices queries all shops concurrently and waits for every outcome.
// Per-shop failures land in Errors and never abort the other lookups.
func (a *Aggregator) FindPrices(ctx context.Context, title string) model.PriceReport {
	logx.Debug().Str("title", title).Int("shops", len(a.shops)).Msg("[Pricing] Canvassing shops")

	offers := make([]*model.Offer, len(a.shops))
	failures := make([]error, len(a.shops))

	// Each goroutine owns its slot, so results stay in canonical order without a mutex.
	var g errgroup.Group
	for i, shop := range a.shops {
		g.Go(func() error {
			offer, err := a.lookup(ctx, shop, title)
			if err != nil {
				logx.Warn().Err(err).Str("shop", shop).Str("title", title).Msg("[Pricing] Shop lookup failed")
				failures[i] = err
				return nil
			}
			offers[i] = offer
			return nil
		})
	}
	_ = g.Wait()

	report := model.PriceReport{
		Status: model.PriceOutOfStock,
		Title:  title,
		Offers: []model.Offer{},
		Errors: []model.ShopError{},
	}
	for i, shop := range a.shops {
		if failures[i] != nil {
			report.Errors = append(report.Errors, model.ShopError{Shop: shop, Error: failures[i].Error()})
			continue
		}
		if offers[i] == nil {
			continue
		}
		report.Offers = append(report.Offers, *offers[i])
		if offers[i].Purchasable() {
			report.Status = model.PriceFound
		}
	}

	logx.Info().
		Str("title", title).
		Str("status", string(report.Status)).
		Int("offers", len(report.Offers)).
		Int("errors", len(report.Errors)).
		Msg("[Pricing] Canvass complete")
	return report
}

func (a *Aggregator) lookup(ctx context.Context, shop, title string) (*model.Offer, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	listing, err := a.retailer.Search(ctx, shop, title)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, errEmptyListing
	}
	return normalize(shop, listing), nil
}

// normalize turns a raw listing into an offer. A price is only surfaced for in-stock items.
func normalize(shop string, l *model.Listing) *model.Offer {
	offer := &model.Offer{
		Shop:       shop,
		InStock:    coerceStock(l.Stock),
		StoreTitle: l.Title,
	}
	if offer.InStock {
		if price, ok := coercePrice(l.Price); ok {
			offer.Price = &price
		}
	}
	return offer
}

// coerceStock reads the shop's stock flag, which may be a bool, a count or a string.
func coerceStock(v any) bool {
	switch s := v.(type) {
	case nil:
		return false
	case bool:
		return s
	case float64:
		return s != 0
	case int:
		return s != 0
	case json.Number:
		f, err := s.Float64()
		return err == nil && f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1", "in_stock", "in stock", "available":
			return true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f > 0
		}
		return false
	default:
		return false
	}
}

func coercePrice(v any) (float64, bool) {
	switch p := v.(type) {
	case float64:
		return p, p >= 0
	case int:
		return float64(p), p >= 0
	case json.Number:
		f, err := p.Float64()
		return f, err == nil && f >= 0
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "$"))
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && f >= 0
	default:
		return 0, false
	}
}
