package service

import (
	"context"
	"errors"
	"testing"

	"github.com/fjod/go_cart/shop-service/internal/cart"
	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/messaging"
	"github.com/fjod/go_cart/shop-service/internal/repository"
	"github.com/fjod/go_cart/shop-service/pkg/circuitbreaker"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, repo *MockRepository, opts ...Option) *OrderService {
	composer, err := messaging.NewComposer("Test Shop")
	require.NoError(t, err)
	return NewOrderService(repo, composer, logger.NewNop(), opts...)
}

func validInfo() CustomerInfo {
	return CustomerInfo{
		Customer: domain.Customer{
			Name:                "Sana",
			Phone:               "+92 (300) 111-2233",
			Email:               "sana@example.com",
			Address:             "7 Canal View, Lahore",
			HasAlternateContact: true,
		},
		PaymentMethod: domain.PaymentMethodCashOnDelivery,
	}
}

func filledCart() *cart.Store {
	c := cart.NewStore("session-1")
	c.Add(domain.Product{ID: "p1", Name: "Notebook", Price: decimal.RequireFromString("250")}, 2)
	c.Add(domain.Product{ID: "p2", Name: "Pen", Price: decimal.RequireFromString("40.5")}, 1)
	return c
}

func TestCreateOrder_Success(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo)

	order, err := svc.CreateOrder(context.Background(), validInfo(), filledCart().Snapshot())

	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, int64(1), order.OrderNumber)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, domain.FulfillmentPending, order.FulfillmentStatus)
	assert.True(t, decimal.RequireFromString("540.5").Equal(order.TotalAmount))
	assert.Len(t, order.Items, 2)
	assert.Len(t, repo.Orders, 1)
}

func TestCreateOrder_TotalNotRepriced(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo)
	c := filledCart()
	snapshot := c.Snapshot()

	// the live cart changes after the snapshot was taken
	c.Add(domain.Product{ID: "p3", Name: "Bag", Price: decimal.RequireFromString("999")}, 1)

	order, err := svc.CreateOrder(context.Background(), validInfo(), snapshot)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("540.5").Equal(order.TotalAmount))
}

func TestCreateOrder_MissingPhone_ValidationError(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo)
	c := filledCart()
	before := c.Items()

	info := validInfo()
	info.Phone = ""
	_, err := svc.CreateOrderFromCart(context.Background(), info, c)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "phone")
	assert.Equal(t, before, c.Items())
	assert.Equal(t, 0, repo.CreateCalls)
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*CustomerInfo)
		field  string
	}{
		{"missing name", func(i *CustomerInfo) { i.Name = "  " }, "name"},
		{"bad phone", func(i *CustomerInfo) { i.Phone = "call me maybe" }, "phone"},
		{"missing address", func(i *CustomerInfo) { i.Address = "" }, "address"},
		{"bad email", func(i *CustomerInfo) { i.Email = "not-an-email" }, "email"},
		{"missing payment", func(i *CustomerInfo) { i.PaymentMethod = "" }, "payment_method"},
		{"unknown payment", func(i *CustomerInfo) { i.PaymentMethod = "crypto" }, "payment_method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockRepository{}
			svc := newTestService(t, repo)
			info := validInfo()
			tt.modify(&info)

			_, err := svc.CreateOrder(context.Background(), info, filledCart().Snapshot())

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
			assert.Equal(t, 0, repo.CreateCalls)
		})
	}
}

func TestCreateOrder_EmptyEmailAllowed(t *testing.T) {
	svc := newTestService(t, &MockRepository{})
	info := validInfo()
	info.Email = ""

	_, err := svc.CreateOrder(context.Background(), info, filledCart().Snapshot())
	assert.NoError(t, err)
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo)

	_, err := svc.CreateOrder(context.Background(), validInfo(), cart.NewStore("s").Snapshot())

	assert.ErrorIs(t, err, ErrEmptyCart)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, repo.CreateCalls)
}

func TestCreateOrderFromCart_PersistenceFailureKeepsCart(t *testing.T) {
	repo := &MockRepository{CreateErrs: []error{errors.New("connection reset")}}
	svc := newTestService(t, repo)
	c := filledCart()

	_, err := svc.CreateOrderFromCart(context.Background(), validInfo(), c)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create order", perr.Op)
	assert.Equal(t, 3, c.ItemCount())
}

func TestCreateOrderFromCart_RetryAfterFailure(t *testing.T) {
	repo := &MockRepository{CreateErrs: []error{errors.New("timeout")}}
	svc := newTestService(t, repo)
	c := filledCart()
	clears := 0
	c.Subscribe(func(ev cart.Event) {
		if ev.Kind == cart.EventCleared {
			clears++
		}
	})

	_, err := svc.CreateOrderFromCart(context.Background(), validInfo(), c)
	require.Error(t, err)
	assert.Equal(t, 0, clears)

	order, err := svc.CreateOrderFromCart(context.Background(), validInfo(), c)
	require.NoError(t, err)

	assert.Len(t, repo.Orders, 1)
	assert.Equal(t, repo.Orders[0].ID, order.ID)
	assert.Equal(t, 1, clears)
	assert.Empty(t, c.Items())
}

func TestCreateOrderFromCart_KeepsItemsAddedDuringCheckout(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo)
	c := filledCart()
	repo.OnCreate = func() {
		c.Add(domain.Product{ID: "p3", Name: "Eraser", Price: decimal.RequireFromString("15")}, 1)
		c.Add(domain.Product{ID: "p1", Name: "Notebook", Price: decimal.RequireFromString("250")}, 1)
	}

	order, err := svc.CreateOrderFromCart(context.Background(), validInfo(), c)
	require.NoError(t, err)

	require.Len(t, order.Items, 2)
	assert.Equal(t, "p1", order.Items[0].ProductID)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.Equal(t, "p2", order.Items[1].ProductID)

	assert.True(t, c.Contains("p3"))
	assert.Equal(t, 1, c.QuantityOf("p1"))
	assert.False(t, c.Contains("p2"))
	assert.Equal(t, 2, c.ItemCount())
}

func TestCreateOrder_IdempotencyKeyReturnsExisting(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo)
	info := validInfo()
	info.IdempotencyKey = "checkout-42"

	first, err := svc.CreateOrder(context.Background(), info, filledCart().Snapshot())
	require.NoError(t, err)
	second, err := svc.CreateOrder(context.Background(), info, filledCart().Snapshot())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.Orders, 1)
}

func TestCreateOrder_BreakerOpenIsPersistenceError(t *testing.T) {
	repo := &MockRepository{CreateErrs: []error{circuitbreaker.ErrOpen}}
	svc := newTestService(t, repo)

	_, err := svc.CreateOrder(context.Background(), validInfo(), filledCart().Snapshot())

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func createdOrder(t *testing.T, svc *OrderService) *domain.Order {
	order, err := svc.CreateOrder(context.Background(), validInfo(), filledCart().Snapshot())
	require.NoError(t, err)
	return order
}

func TestUpdateStatus_AdvisoryAllowsSkipping(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo)
	order := createdOrder(t, svc)

	shipped := domain.FulfillmentShipped
	res, err := svc.UpdateStatus(context.Background(), order.ID, domain.StatusPatch{Fulfillment: &shipped})

	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentShipped, res.Order.FulfillmentStatus)
	require.NotNil(t, res.Message)
	assert.Equal(t, messaging.KindOrderShipped, res.Message.Kind)
	assert.Contains(t, res.Message.Link, "https://wa.me/")
}

func TestUpdateStatus_StrictRejectsSkipping(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo, WithStrictTransitions())
	order := createdOrder(t, svc)

	shipped := domain.FulfillmentShipped
	_, err := svc.UpdateStatus(context.Background(), order.ID, domain.StatusPatch{Fulfillment: &shipped})

	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Empty(t, repo.Patches)

	confirmed := domain.FulfillmentConfirmed
	_, err = svc.UpdateStatus(context.Background(), order.ID, domain.StatusPatch{Fulfillment: &confirmed})
	assert.NoError(t, err)
}

func TestUpdateStatus_PaymentPaidComposesMessage(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo)
	order := createdOrder(t, svc)

	paid := domain.PaymentStatusPaid
	res, err := svc.UpdateStatus(context.Background(), order.ID, domain.StatusPatch{Payment: &paid})

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, res.Order.PaymentStatus)
	assert.Equal(t, domain.FulfillmentPending, res.Order.FulfillmentStatus)
	require.NotNil(t, res.Message)
	assert.Equal(t, messaging.KindPaymentConfirmed, res.Message.Kind)
}

func TestUpdateStatus_NoMessage(t *testing.T) {
	t.Run("without alternate contact", func(t *testing.T) {
		repo := &MockRepository{}
		svc := newTestService(t, repo)
		info := validInfo()
		info.HasAlternateContact = false
		order, err := svc.CreateOrder(context.Background(), info, filledCart().Snapshot())
		require.NoError(t, err)

		delivered := domain.FulfillmentDelivered
		res, err := svc.UpdateStatus(context.Background(), order.ID, domain.StatusPatch{Fulfillment: &delivered})
		require.NoError(t, err)
		assert.Nil(t, res.Message)
	})

	t.Run("unchanged status", func(t *testing.T) {
		repo := &MockRepository{}
		svc := newTestService(t, repo)
		order := createdOrder(t, svc)

		confirmed := domain.FulfillmentConfirmed
		_, err := svc.UpdateStatus(context.Background(), order.ID, domain.StatusPatch{Fulfillment: &confirmed})
		require.NoError(t, err)
		res, err := svc.UpdateStatus(context.Background(), order.ID, domain.StatusPatch{Fulfillment: &confirmed})
		require.NoError(t, err)
		assert.Nil(t, res.Message)
	})

	t.Run("processing", func(t *testing.T) {
		repo := &MockRepository{}
		svc := newTestService(t, repo)
		order := createdOrder(t, svc)

		processing := domain.FulfillmentProcessing
		res, err := svc.UpdateStatus(context.Background(), order.ID, domain.StatusPatch{Fulfillment: &processing})
		require.NoError(t, err)
		assert.Nil(t, res.Message)
	})
}

func TestUpdateStatus_Errors(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo)
	order := createdOrder(t, svc)

	_, err := svc.UpdateStatus(context.Background(), order.ID, domain.StatusPatch{})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	bogus := domain.FulfillmentStatus("lost")
	_, err = svc.UpdateStatus(context.Background(), order.ID, domain.StatusPatch{Fulfillment: &bogus})
	assert.ErrorAs(t, err, &verr)

	paid := domain.PaymentStatusPaid
	_, err = svc.UpdateStatus(context.Background(), "missing", domain.StatusPatch{Payment: &paid})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	repo.UpdateErr = errors.New("db down")
	_, err = svc.UpdateStatus(context.Background(), order.ID, domain.StatusPatch{Payment: &paid})
	var perr *PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestGetOrder_ByNumberThenID(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo)
	order := createdOrder(t, svc)

	byNumber, err := svc.GetOrder(context.Background(), "#1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byNumber.ID)

	byID, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, byID.ID)

	_, err = svc.GetOrder(context.Background(), "99")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGetOrder_StoreFailure(t *testing.T) {
	repo := &MockRepository{GetErr: errors.New("db down")}
	svc := newTestService(t, repo)

	_, err := svc.GetOrder(context.Background(), "12")
	var perr *PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestListOrders(t *testing.T) {
	repo := &MockRepository{}
	svc := newTestService(t, repo)
	first := createdOrder(t, svc)
	second := createdOrder(t, svc)

	orders, err := svc.ListOrders(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)
	assert.Equal(t, first.ID, orders[1].ID)

	repo.ListErr = repository.ErrOrderNotFound
	_, err = svc.ListOrders(context.Background(), 10)
	var perr *PersistenceError
	assert.ErrorAs(t, err, &perr)
}
