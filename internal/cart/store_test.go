package cart

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id, price string) domain.Product {
	return domain.Product{ID: id, Name: "Product " + id, Price: decimal.RequireFromString(price)}
}

func TestAdd_SameProductTwice_MergesQuantity(t *testing.T) {
	s := NewStore("s1")

	s.Add(product("x", "10"), 1)
	s.Add(product("x", "10"), 1)

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, 2, s.QuantityOf("x"))
}

func TestAdd_KeepsFirstPriceSnapshot(t *testing.T) {
	s := NewStore("s1")

	s.Add(product("x", "10"), 1)
	s.Add(product("x", "12"), 1) // catalog price changed meanwhile

	assert.True(t, decimal.RequireFromString("20").Equal(s.Total()))
}

func TestAdd_NonPositiveQtyCountsAsOne(t *testing.T) {
	s := NewStore("s1")
	s.Add(product("x", "1"), 0)
	assert.Equal(t, 1, s.QuantityOf("x"))
}

func TestAdd_CopiesOriginalPrice(t *testing.T) {
	s := NewStore("s1")
	orig := decimal.RequireFromString("30")
	p := product("x", "20")
	p.OriginalPrice = &orig

	s.Add(p, 1)
	orig = decimal.RequireFromString("1")

	require.NotNil(t, s.Items()[0].OriginalUnitPrice)
	assert.True(t, decimal.RequireFromString("30").Equal(*s.Items()[0].OriginalUnitPrice))
}

func TestSetQuantity(t *testing.T) {
	s := NewStore("s1")
	s.Add(product("x", "2.50"), 1)

	s.SetQuantity("x", 4)
	assert.Equal(t, 4, s.QuantityOf("x"))
	assert.True(t, decimal.RequireFromString("10").Equal(s.Total()))

	s.SetQuantity("missing", 3)
	assert.False(t, s.Contains("missing"))

	s.SetQuantity("x", 0)
	assert.False(t, s.Contains("x"))
	assert.Empty(t, s.Items())
}

func TestRemove_Idempotent(t *testing.T) {
	s := NewStore("s1")
	s.Add(product("x", "1"), 1)

	s.Remove("x")
	s.Remove("x")

	assert.False(t, s.Contains("x"))
	assert.Equal(t, 0, s.QuantityOf("x"))
}

func TestClearAndTotal(t *testing.T) {
	s := NewStore("s1")
	assert.True(t, decimal.Zero.Equal(s.Total()))

	s.Add(product("a", "1.10"), 3)
	s.Add(product("b", "2.00"), 1)
	assert.True(t, decimal.RequireFromString("5.30").Equal(s.Total()))
	assert.Equal(t, 4, s.ItemCount())

	s.Clear()
	assert.Empty(t, s.Items())
	assert.True(t, decimal.Zero.Equal(s.Total()))
}

func TestRandomSequences_KeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewStore("s1")

	for step := 0; step < 2000; step++ {
		id := strconv.Itoa(rng.Intn(6))
		switch rng.Intn(3) {
		case 0:
			s.Add(product(id, strconv.Itoa(rng.Intn(50)+1)), rng.Intn(3)+1)
		case 1:
			s.SetQuantity(id, rng.Intn(5)-1)
		case 2:
			s.Remove(id)
		}

		items := s.Items()
		seen := make(map[string]bool)
		want := decimal.Zero
		for _, item := range items {
			require.False(t, seen[item.ProductID], "duplicate product %s", item.ProductID)
			seen[item.ProductID] = true
			require.GreaterOrEqual(t, item.Quantity, 1)
			want = want.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		require.True(t, want.Equal(s.Total()))
	}
}

func TestSubscribe_ReceivesChangesUntilCancelled(t *testing.T) {
	s := NewStore("s1")
	var events []Event
	cancel := s.Subscribe(func(ev Event) { events = append(events, ev) })

	s.Add(product("x", "5"), 2)
	s.SetQuantity("x", 3)
	s.Remove("x")
	s.Remove("x") // no change, no event
	cancel()
	s.Add(product("y", "1"), 1)

	require.Len(t, events, 3)
	assert.Equal(t, EventItemAdded, events[0].Kind)
	assert.Equal(t, 2, events[0].ItemCount)
	assert.Equal(t, EventQuantityChanged, events[1].Kind)
	assert.True(t, decimal.RequireFromString("15").Equal(events[1].Total))
	assert.Equal(t, EventItemRemoved, events[2].Kind)
}

func TestSubscribe_ObserverMayReadStore(t *testing.T) {
	s := NewStore("s1")
	var seen int
	s.Subscribe(func(Event) { seen = s.QuantityOf("x") })

	s.Add(product("x", "5"), 2)
	assert.Equal(t, 2, seen)
}

func TestSnapshot_IsDetached(t *testing.T) {
	s := NewStore("s1")
	s.Add(product("x", "4"), 2)

	snap := s.Snapshot()
	s.SetQuantity("x", 10)

	assert.Equal(t, 2, snap.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("8").Equal(snap.TotalAmount))
}

func TestRemoveCheckedOut(t *testing.T) {
	s := NewStore("s1")
	s.Add(product("x", "4"), 2)
	s.Add(product("y", "1"), 1)
	snap := s.Snapshot()

	s.Add(product("x", "4"), 3)
	s.Add(product("z", "2"), 1)
	var kinds []EventKind
	s.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	s.RemoveCheckedOut(snap)

	assert.Equal(t, 3, s.QuantityOf("x"))
	assert.False(t, s.Contains("y"))
	assert.Equal(t, 1, s.QuantityOf("z"))
	assert.Equal(t, []EventKind{EventCheckedOut}, kinds)
}

func TestRemoveCheckedOut_WholeCartIsAClear(t *testing.T) {
	p := newMemPersister()
	s := NewStore("s1", WithPersister(p))
	s.Add(product("x", "4"), 2)
	var kinds []EventKind
	s.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	s.RemoveCheckedOut(s.Snapshot())

	assert.Empty(t, s.Items())
	assert.Equal(t, []EventKind{EventCleared}, kinds)
	assert.Equal(t, 1, p.deletes)
}

type memPersister struct {
	m       sync.Mutex
	carts   map[string][]domain.CartItem
	saveErr error
	deletes int
}

func newMemPersister() *memPersister {
	return &memPersister{carts: make(map[string][]domain.CartItem)}
}

func (m *memPersister) Load(_ context.Context, id string) ([]domain.CartItem, error) {
	m.m.Lock()
	defer m.m.Unlock()
	items, ok := m.carts[id]
	if !ok {
		return nil, ErrCartNotFound
	}
	return items, nil
}

func (m *memPersister) Save(_ context.Context, id string, items []domain.CartItem) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := make([]domain.CartItem, len(items))
	copy(cp, items)
	m.carts[id] = cp
	return nil
}

func (m *memPersister) Delete(_ context.Context, id string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.deletes++
	delete(m.carts, id)
	return nil
}

func TestPersister_SavesAndDeletes(t *testing.T) {
	p := newMemPersister()
	s := NewStore("s1", WithPersister(p))

	s.Add(product("x", "1"), 1)
	require.Len(t, p.carts["s1"], 1)

	s.Clear()
	_, ok := p.carts["s1"]
	assert.False(t, ok)
	assert.Equal(t, 1, p.deletes)
}

func TestPersister_FailureDoesNotFailMutation(t *testing.T) {
	p := newMemPersister()
	p.saveErr = errors.New("redis down")
	s := NewStore("s1", WithPersister(p))

	s.Add(product("x", "1"), 1)
	assert.Equal(t, 1, s.QuantityOf("x"))
}

func TestWithItems_DropsInvalidEntries(t *testing.T) {
	s := NewStore("s1", WithItems([]domain.CartItem{
		{ProductID: "a", Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
		{ProductID: "a", Quantity: 5, UnitPrice: decimal.NewFromInt(1)},
		{ProductID: "b", Quantity: 0, UnitPrice: decimal.NewFromInt(1)},
	}))

	require.Len(t, s.Items(), 1)
	assert.Equal(t, 1, s.QuantityOf("a"))
}
