package model

// PriceStatus is the aggregate availability of a title across all shops.
type PriceStatus string

const (
	PriceFound      PriceStatus = "found"
	PriceOutOfStock PriceStatus = "out_of_stock"
)

// Offer is one shop's answer for a title. Price is set only when InStock.
type Offer struct {
	Shop       string   `json:"shop"`
	Price      *float64 `json:"price"`
	InStock    bool     `json:"in_stock"`
	StoreTitle string   `json:"store_title"`
}

// Purchasable reports whether the offer can be bought.
func (o Offer) Purchasable() bool {
	return o.InStock && o.Price != nil
}

// ShopError records a failed lookup at a single shop.
type ShopError struct {
	Shop  string `json:"shop"`
	Error string `json:"error"`
}

// PriceReport is the findPricesTool payload.
type PriceReport struct {
	Status PriceStatus `json:"status"`
	Title  string      `json:"title"`
	Offers []Offer     `json:"offers"`
	Errors []ShopError `json:"errors"`
}

// Cheapest returns the purchasable offer with the lowest price.
// Offers are expected in canonical shop order, so the first of equal prices wins.
func (r PriceReport) Cheapest() (Offer, bool) {
	var best Offer
	found := false
	for _, o := range r.Offers {
		if !o.Purchasable() {
			continue
		}
		if !found || *o.Price < *best.Price {
			best = o
			found = true
		}
	}
	return best, found
}

// Listing is a retailer search hit as returned by a shop.
type Listing struct {
	Title    string `json:"title"`
	Price    any    `json:"price"`
	Stock    any    `json:"stock"`
	ShopID   string `json:"shop_id"`
	Category string `json:"category"`
}

// Order is the body of a purchase request.
type Order struct {
	Title        string `json:"title"`
	UserAddress  string `json:"user_address"`
	PaymentToken string `json:"payment_token"`
}

// Receipt is a shop's purchase confirmation.
type Receipt struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	ETA           string `json:"eta"`
}

// PurchaseStatus is the outcome of a buy call.
type PurchaseStatus string

const (
	PurchaseSuccess PurchaseStatus = "success"
	PurchaseFailed  PurchaseStatus = "failed"
)

// PurchaseResult is the buyBookTool payload.
type PurchaseResult struct {
	Status        PurchaseStatus `json:"status"`
	Shop          string         `json:"shop"`
	Title         string         `json:"title"`
	TransactionID string         `json:"transaction_id,omitempty"`
	ETA           string         `json:"eta,omitempty"`
	Error         string         `json:"error,omitempty"`
}

func (r PurchaseResult) Succeeded() bool {
	return r.Status == PurchaseSuccess
}
