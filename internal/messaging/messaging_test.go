package messaging

import (
	"net/url"
	"strings"
	"testing"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder() domain.Order {
	return domain.Order{
		ID:          "3f1c2d4e-aaaa-bbbb-cccc-000000000001",
		OrderNumber: 7,
		Items: []domain.CartItem{
			{ProductID: "p1", Name: "Mug", UnitPrice: decimal.RequireFromString("450"), Quantity: 2},
		},
		TotalAmount:       decimal.RequireFromString("900"),
		PaymentMethod:     domain.PaymentMethodCashOnDelivery,
		PaymentStatus:     domain.PaymentStatusPending,
		FulfillmentStatus: domain.FulfillmentShipped,
		Customer: domain.Customer{
			Name:                "Ayesha",
			Phone:               "0315 333-8612",
			Address:             "12 Mall Road, Lahore",
			HasAlternateContact: true,
		},
	}
}

func TestCompose_AllKinds(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)

	tests := []struct {
		kind TemplateKind
		want []string
	}{
		{KindOrderConfirmation, []string{"Ayesha", "#07", "Mug x2: Rs. 900", "Total: Rs. 900", "Cash on delivery"}},
		{KindPaymentConfirmed, []string{"Rs. 900", "#07"}},
		{KindOrderShipped, []string{"shipped", "12 Mall Road, Lahore"}},
		{KindOrderDelivered, []string{"delivered", "Glory Shop"}},
		{KindOrderStatus, []string{"is now shipped"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			text, err := c.Compose(testOrder(), tt.kind)
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, text, want)
			}
		})
	}
}

func TestCompose_IsPure(t *testing.T) {
	c, err := NewComposer("Corner Store")
	require.NoError(t, err)

	a, err := c.Compose(testOrder(), KindOrderDelivered)
	require.NoError(t, err)
	b, err := c.Compose(testOrder(), KindOrderDelivered)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Contains(t, a, "Corner Store")
}

func TestCompose_UnknownKind(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)

	_, err = c.Compose(testOrder(), TemplateKind("refund"))
	assert.Error(t, err)
}

func TestParse_MissingTemplate(t *testing.T) {
	_, err := Parse([]byte("templates:\n  order_status: hi\n"), "")
	require.ErrorContains(t, err, "missing")
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("templates: [\n"), "")
	require.ErrorContains(t, err, "failed to parse templates YAML")
}

func TestMessage_BuildsShareLink(t *testing.T) {
	c, err := NewComposer("")
	require.NoError(t, err)

	msg, err := c.Message(testOrder(), KindOrderShipped)
	require.NoError(t, err)

	assert.Equal(t, "923153338612", msg.To)
	require.True(t, strings.HasPrefix(msg.Link, "https://wa.me/923153338612?text="))

	u, err := url.Parse(msg.Link)
	require.NoError(t, err)
	assert.Equal(t, msg.Text, u.Query().Get("text"))
}

func TestKindForTransition(t *testing.T) {
	ptrF := func(s domain.FulfillmentStatus) *domain.FulfillmentStatus { return &s }
	ptrP := func(s domain.PaymentStatus) *domain.PaymentStatus { return &s }

	tests := []struct {
		name   string
		f      *domain.FulfillmentStatus
		p      *domain.PaymentStatus
		want   TemplateKind
		wantOK bool
	}{
		{"paid", nil, ptrP(domain.PaymentStatusPaid), KindPaymentConfirmed, true},
		{"confirmed", ptrF(domain.FulfillmentConfirmed), nil, KindOrderConfirmation, true},
		{"shipped", ptrF(domain.FulfillmentShipped), nil, KindOrderShipped, true},
		{"delivered", ptrF(domain.FulfillmentDelivered), nil, KindOrderDelivered, true},
		{"processing", ptrF(domain.FulfillmentProcessing), nil, "", false},
		{"payment cancelled", nil, ptrP(domain.PaymentStatusCancelled), "", false},
		{"nothing", nil, nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindForTransition(tt.f, tt.p)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, kind)
		})
	}
}
