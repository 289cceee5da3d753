package purchase

import (
	"context"
	"fmt"
	"strings"

	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
	"github.com/booksage/bookbuy-agent/internal/metrics"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

// Executor places a single order per call. Failures are returned as a failed
// result, never as an error, so callers can exclude the title and move on.
type Executor struct {
	retailer repository.RetailerClient
	metrics  *metrics.Metrics
}

func NewExecutor(retailer repository.RetailerClient, m *metrics.Metrics) *Executor {
	return &Executor{retailer: retailer, metrics: m}
}

// Buy returns the buyBookTool payload for req.
func (e *Executor) Buy(ctx context.Context, req model.BuyBookRequest) model.PurchaseResult {
	result := model.PurchaseResult{
		Status: model.PurchaseFailed,
		Shop:   req.ShopID,
		Title:  req.BookTitle,
	}

	if err := validate(req); err != nil {
		result.Error = err.Error()
		e.record(result)
		return result
	}

	receipt, err := e.retailer.Buy(ctx, req.ShopID, model.Order{
		Title:        req.BookTitle,
		UserAddress:  req.Address,
		PaymentToken: req.PaymentToken,
	})
	switch {
	case err != nil:
		result.Error = err.Error()
	case receipt == nil:
		result.Error = "shop returned an empty confirmation"
	default:
		result.Status = model.PurchaseSuccess
		result.TransactionID = receipt.TransactionID
		result.ETA = receipt.ETA
	}

	e.record(result)
	return result
}

func (e *Executor) record(r model.PurchaseResult) {
	e.metrics.IncPurchase(r.Shop, string(r.Status))
	if r.Succeeded() {
		logx.Info().Str("shop", r.Shop).Str("title", r.Title).Str("txn", r.TransactionID).Msg("[Purchase] Order placed")
		return
	}
	logx.Warn().Str("shop", r.Shop).Str("title", r.Title).Str("error", r.Error).Msg("[Purchase] Order failed")
}

func validate(req model.BuyBookRequest) error {
	var missing []string
	if strings.TrimSpace(req.ShopID) == "" {
		missing = append(missing, "shop_id")
	}
	if strings.TrimSpace(req.BookTitle) == "" {
		missing = append(missing, "book_title")
	}
	if strings.TrimSpace(req.Address) == "" {
		missing = append(missing, "address")
	}
	if strings.TrimSpace(req.PaymentToken) == "" {
		missing = append(missing, "payment_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}
