package domain

import (
	"github.com/shopspring/decimal"
)

// Item is one line of a spend basket. Category is what the policy engine
// ultimately classifies; UPC and SKU, when present, take precedence over the
// caller-supplied category.
type Item struct {
	ProductName string          `json:"product_name,omitempty"`
	Category    string          `json:"category,omitempty"`
	UPC         string          `json:"upc,omitempty"`
	SKU         string          `json:"sku,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

// LineTotal is unit price times quantity, rounded to cents.
func (i Item) LineTotal() decimal.Decimal {
	return NormalizeAmount(i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))))
}

// BasketTotal sums the line totals of all items.
func BasketTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total
}
