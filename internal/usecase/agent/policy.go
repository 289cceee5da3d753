package agent

import "github.com/booksage/bookbuy-agent/internal/domain/model"

// AffordabilityPolicy decides whether the cheapest offer for a title is acceptable.
// A rejected offer is handled exactly like an out-of-stock title.
type AffordabilityPolicy interface {
	Accept(offer model.Offer) bool
}

// AcceptAll never rejects an offer.
type AcceptAll struct{}

func (AcceptAll) Accept(model.Offer) bool { return true }

// MaxPricePolicy rejects offers priced above Max.
type MaxPricePolicy struct {
	Max float64
}

func (p MaxPricePolicy) Accept(offer model.Offer) bool {
	return offer.Price != nil && *offer.Price <= p.Max
}

// PolicyFor returns MaxPricePolicy for a positive ceiling and AcceptAll otherwise.
func PolicyFor(maxPrice float64) AffordabilityPolicy {
	if maxPrice > 0 {
		return MaxPricePolicy{Max: maxPrice}
	}
	return AcceptAll{}
}
