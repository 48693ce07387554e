package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog view handed to the cart. The catalog itself is
// owned elsewhere; the cart only copies what it needs.
type Product struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	ImageURL      string           `json:"image_url,omitempty"`
}

type CartItem struct {
	ProductID         string           `json:"product_id"`
	Name              string           `json:"name"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	OriginalUnitPrice *decimal.Decimal `json:"original_unit_price,omitempty"`
	Quantity          int              `json:"quantity"`
	ImageRef          string           `json:"image_ref,omitempty"`
}

func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartSnapshot is the frozen cart state at checkout time.
type CartSnapshot struct {
	Items       []CartItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CapturedAt  time.Time       `json:"captured_at"`
}

func (s CartSnapshot) IsEmpty() bool {
	return len(s.Items) == 0
}

// NewCartSnapshot copies items and computes the total from them.
func NewCartSnapshot(items []CartItem, capturedAt time.Time) CartSnapshot {
	frozen := make([]CartItem, len(items))
	total := decimal.Zero
	for i, item := range items {
		frozen[i] = item
		if item.OriginalUnitPrice != nil {
			p := *item.OriginalUnitPrice
			frozen[i].OriginalUnitPrice = &p
		}
		total = total.Add(item.Subtotal())
	}
	return CartSnapshot{Items: frozen, TotalAmount: total, CapturedAt: capturedAt}
}
