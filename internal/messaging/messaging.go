// Package messaging composes the customer-facing texts the operator sends
// about an order. Delivery is not handled here; Compose only renders text and
// a share link the operator can open.
package messaging

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type TemplateKind string

const (
	KindOrderConfirmation TemplateKind = "order_confirmation"
	KindOrderShipped      TemplateKind = "order_shipped"
	KindOrderDelivered    TemplateKind = "order_delivered"
	KindOrderStatus       TemplateKind = "order_status"
	KindPaymentConfirmed  TemplateKind = "payment_confirmed"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Message is a rendered text plus a wa.me link prefilled with it.
type Message struct {
	Kind TemplateKind `json:"kind"`
	To   string       `json:"to"`
	Text string       `json:"text"`
	Link string       `json:"link"`
}

type templateFile struct {
	ShopName  string                  `yaml:"shop_name"`
	Templates map[TemplateKind]string `yaml:"templates"`
}

type Composer struct {
	shop      string
	templates map[TemplateKind]*template.Template
}

type templateItem struct {
	Name     string
	Quantity int
	Subtotal string
}

type templateData struct {
	Shop     string
	Customer string
	Number   string
	Items    []templateItem
	Total    string
	Payment  string
	Status   string
	Address  string
}

// NewComposer parses the embedded templates. shopName overrides the name
// from the file when non-empty.
func NewComposer(shopName string) (*Composer, error) {
	return Parse(defaultTemplates, shopName)
}

// Parse builds a Composer from YAML data. Every TemplateKind must be present.
func Parse(data []byte, shopName string) (*Composer, error) {
	var tf templateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse templates YAML: %w", err)
	}
	if shopName != "" {
		tf.ShopName = shopName
	}

	c := &Composer{shop: tf.ShopName, templates: make(map[TemplateKind]*template.Template)}
	for _, kind := range []TemplateKind{
		KindOrderConfirmation, KindOrderShipped, KindOrderDelivered, KindOrderStatus, KindPaymentConfirmed,
	} {
		body, ok := tf.Templates[kind]
		if !ok {
			return nil, fmt.Errorf("template %q missing", kind)
		}
		tmpl, err := template.New(string(kind)).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", kind, err)
		}
		c.templates[kind] = tmpl
	}
	return c, nil
}

// Compose renders the message text for order. It is a pure function of its
// inputs.
func (c *Composer) Compose(order domain.Order, kind TemplateKind) (string, error) {
	tmpl, ok := c.templates[kind]
	if !ok {
		return "", fmt.Errorf("unknown template kind %q", kind)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, c.data(order)); err != nil {
		return "", fmt.Errorf("render %s: %w", kind, err)
	}
	return b.String(), nil
}

// Message composes the text and wraps it with a share link for the
// customer's phone.
func (c *Composer) Message(order domain.Order, kind TemplateKind) (Message, error) {
	text, err := c.Compose(order, kind)
	if err != nil {
		return Message{}, err
	}
	to := normalizePhone(order.Customer.Phone)
	return Message{Kind: kind, To: to, Text: text, Link: ShareLink(to, text)}, nil
}

func (c *Composer) data(order domain.Order) templateData {
	d := templateData{
		Shop:     c.shop,
		Customer: order.Customer.Name,
		Number:   order.DisplayNumber(),
		Total:    formatAmount(order.TotalAmount),
		Payment:  paymentLabel(order.PaymentMethod),
		Status:   string(order.FulfillmentStatus),
		Address:  order.Customer.Address,
	}
	for _, item := range order.Items {
		d.Items = append(d.Items, templateItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Subtotal: formatAmount(item.Subtotal()),
		})
	}
	return d
}

// KindForTransition picks the template for a status change, or false when
// the change does not warrant a customer message.
func KindForTransition(fulfillment *domain.FulfillmentStatus, payment *domain.PaymentStatus) (TemplateKind, bool) {
	if payment != nil && *payment == domain.PaymentStatusPaid {
		return KindPaymentConfirmed, true
	}
	if fulfillment == nil {
		return "", false
	}
	switch *fulfillment {
	case domain.FulfillmentConfirmed:
		return KindOrderConfirmation, true
	case domain.FulfillmentShipped:
		return KindOrderShipped, true
	case domain.FulfillmentDelivered:
		return KindOrderDelivered, true
	}
	return "", false
}

// ShareLink builds a https://wa.me link with the text prefilled.
func ShareLink(phone, text string) string {
	return "https://wa.me/" + phone + "?text=" + url.QueryEscape(text)
}

// normalizePhone keeps digits only and rewrites a local 0-prefixed number to
// the +92 country code.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "0") {
		digits = "92" + digits[1:]
	}
	return digits
}

func formatAmount(d decimal.Decimal) string {
	return d.String()
}

func paymentLabel(m domain.PaymentMethod) string {
	switch m {
	case domain.PaymentMethodBankTransfer:
		return "Bank transfer"
	case domain.PaymentMethodCashOnDelivery:
		return "Cash on delivery"
	}
	return string(m)
}
