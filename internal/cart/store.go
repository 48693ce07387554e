package cart

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/pkg/logger"
	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventItemAdded       EventKind = "item_added"
	EventQuantityChanged EventKind = "quantity_changed"
	EventItemRemoved     EventKind = "item_removed"
	EventCleared         EventKind = "cleared"
	EventCheckedOut      EventKind = "checked_out"
)

// Event is broadcast after every mutation that changed the cart.
type Event struct {
	SessionID string
	Kind      EventKind
	ProductID string
	ItemCount int
	Total     decimal.Decimal
}

// Store holds one cart: at most one item per product, quantities >= 1,
// insertion order preserved.
type Store struct {
	mu        sync.Mutex
	sessionID string
	items     []domain.CartItem

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObsID int

	persister Persister
	log       logger.Logger
	now       func() time.Time
	timeout   time.Duration
}

type Option func(*Store)

// WithPersister saves the cart after every change. Save failures are logged
// and never fail the mutation.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithItems seeds the store, e.g. from a persisted cart. Invalid entries
// (non-positive quantity, duplicate product) are dropped.
func WithItems(items []domain.CartItem) Option {
	return func(s *Store) {
		for _, item := range items {
			if item.Quantity <= 0 || s.indexOf(item.ProductID) >= 0 {
				continue
			}
			s.items = append(s.items, item)
		}
	}
}

func NewStore(sessionID string, opts ...Option) *Store {
	s := &Store{
		sessionID: sessionID,
		observers: make(map[int]func(Event)),
		log:       logger.NewNop(),
		now:       time.Now,
		timeout:   time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) SessionID() string {
	return s.sessionID
}

// Add puts qty units of product into the cart. An existing line keeps its
// original price snapshot and only grows in quantity. qty < 1 counts as 1.
func (s *Store) Add(product domain.Product, qty int) {
	if qty < 1 {
		qty = 1
	}

	s.mu.Lock()
	if i := s.indexOf(product.ID); i >= 0 {
		s.items[i].Quantity += qty
	} else {
		item := domain.CartItem{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  qty,
			ImageRef:  product.ImageURL,
		}
		if product.OriginalPrice != nil {
			p := *product.OriginalPrice
			item.OriginalUnitPrice = &p
		}
		s.items = append(s.items, item)
	}
	ev := s.eventLocked(EventItemAdded, product.ID)
	s.mu.Unlock()

	s.broadcast(ev)
}

// SetQuantity overwrites the quantity; qty <= 0 removes the item.
// Unknown products are ignored.
func (s *Store) SetQuantity(productID string, qty int) {
	if qty <= 0 {
		s.Remove(productID)
		return
	}

	s.mu.Lock()
	i := s.indexOf(productID)
	if i < 0 || s.items[i].Quantity == qty {
		s.mu.Unlock()
		return
	}
	s.items[i].Quantity = qty
	ev := s.eventLocked(EventQuantityChanged, productID)
	s.mu.Unlock()

	s.broadcast(ev)
}

// Remove is idempotent.
func (s *Store) Remove(productID string) {
	s.mu.Lock()
	i := s.indexOf(productID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	ev := s.eventLocked(EventItemRemoved, productID)
	s.mu.Unlock()

	s.broadcast(ev)
}

func (s *Store) Clear() {
	s.mu.Lock()
	if len(s.items) == 0 {
		s.mu.Unlock()
		return
	}
	s.items = nil
	ev := s.eventLocked(EventCleared, "")
	s.mu.Unlock()

	s.broadcast(ev)
}

// RemoveCheckedOut takes the snapshot's lines out of the cart at their
// snapshot quantities. Lines added or grown after the snapshot stay. When
// nothing is left the change is reported as a clear.
func (s *Store) RemoveCheckedOut(snap domain.CartSnapshot) {
	s.mu.Lock()
	changed := false
	for _, ordered := range snap.Items {
		i := s.indexOf(ordered.ProductID)
		if i < 0 {
			continue
		}
		changed = true
		if left := s.items[i].Quantity - ordered.Quantity; left > 0 {
			s.items[i].Quantity = left
			continue
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	kind := EventCheckedOut
	if len(s.items) == 0 {
		s.items = nil
		kind = EventCleared
	}
	ev := s.eventLocked(kind, "")
	s.mu.Unlock()

	s.broadcast(ev)
}

func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLocked()
}

func (s *Store) Contains(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(productID) >= 0
}

func (s *Store) QuantityOf(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(productID); i >= 0 {
		return s.items[i].Quantity
	}
	return 0
}

// ItemCount is the number of units across all lines.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

func (s *Store) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CartItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Snapshot() domain.CartSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.NewCartSnapshot(s.items, s.now())
}

// Subscribe registers fn for future changes. Observers run synchronously
// after the change, outside the cart lock; there is no replay.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

// eventLocked persists the current state and builds the change event.
// Must be called with s.mu held.
func (s *Store) eventLocked(kind EventKind, productID string) Event {
	s.persistLocked()
	return Event{
		SessionID: s.sessionID,
		Kind:      kind,
		ProductID: productID,
		ItemCount: s.countLocked(),
		Total:     s.totalLocked(),
	}
}

func (s *Store) persistLocked() {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var err error
	if len(s.items) == 0 {
		err = s.persister.Delete(ctx, s.sessionID)
	} else {
		err = s.persister.Save(ctx, s.sessionID, s.items)
	}
	if err != nil {
		s.log.Warn("cart persist failed", logger.String("session_id", s.sessionID), logger.Error(err))
	}
}

func (s *Store) broadcast(ev Event) {
	s.obsMu.Lock()
	fns := make([]func(Event), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Store) indexOf(productID string) int {
	for i := range s.items {
		if s.items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (s *Store) totalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func (s *Store) countLocked() int {
	n := 0
	for _, item := range s.items {
		n += item.Quantity
	}
	return n
}
