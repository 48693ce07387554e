package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address"`
	// HasAlternateContact marks the phone as reachable over WhatsApp.
	HasAlternateContact bool `json:"has_whatsapp"`
}

type Order struct {
	ID                string            `json:"id"`
	OrderNumber       int64             `json:"order_number"`
	Items             []CartItem        `json:"items"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	PaymentMethod     PaymentMethod     `json:"payment_method"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	Customer          Customer          `json:"customer"`
	Notes             string            `json:"notes,omitempty"`
	// IdempotencyKey collapses retried checkouts into one order.
	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DisplayNumber is the human-facing reference: the zero-padded sequential
// number, or a short id prefix while no number has been assigned.
func (o Order) DisplayNumber() string {
	if o.OrderNumber > 0 {
		return fmt.Sprintf("%02d", o.OrderNumber)
	}
	if len(o.ID) > 8 {
		return o.ID[:8]
	}
	return o.ID
}

// StatusPatch is a partial status update. Nil fields are left untouched.
type StatusPatch struct {
	Fulfillment *FulfillmentStatus `json:"fulfillment_status,omitempty"`
	Payment     *PaymentStatus     `json:"payment_status,omitempty"`
}

func (p StatusPatch) IsEmpty() bool {
	return p.Fulfillment == nil && p.Payment == nil
}
