package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the catalog and order storage used by the Pizzeria.
type Store interface {
	ListPizzas() []Pizza
	GetPizza(id string) (Pizza, bool)
	AddPizza(name, description string, price decimal.Decimal) Pizza
	SeedPizza(p Pizza) error
	RemovePizza(id string) bool

	CreateOrder(items []LineItem) Order
	GetOrder(id string) (Order, bool)
	ListOrders() []Order
	SetOrderStatus(id string, status OrderStatus) (Order, bool)
	RemoveOrder(id string) bool
	RemoveOrderIf(id string, allow func(Order) error) (Order, bool, error)
}

// MemoryStore keeps the catalog and the orders in process memory. Each
// collection has its own lock so menu reads never wait on order writes.
type MemoryStore struct {
	pizzasMu sync.RWMutex
	pizzas   map[string]Pizza
	// ids handed out for pizzas, kept after removal so they are never reused
	pizzaIDs map[string]struct{}

	ordersMu sync.RWMutex
	orders   map[string]Order
	orderIDs map[string]struct{}

	newID func() string
	now   func() time.Time
}

type MemoryStoreOption func(*MemoryStore)

// WithIDGenerator replaces the short uuid token generator.
func WithIDGenerator(fn func() string) MemoryStoreOption {
	return func(s *MemoryStore) { s.newID = fn }
}

// WithClock replaces time.Now for order timestamps.
func WithClock(fn func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = fn }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		pizzas:   make(map[string]Pizza),
		pizzaIDs: make(map[string]struct{}),
		orders:   make(map[string]Order),
		orderIDs: make(map[string]struct{}),
		newID:    shortID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

func shortID() string {
	return uuid.NewString()[:6]
}

// uniqueID draws ids until one has never been issued in seen.
func (s *MemoryStore) uniqueID(seen map[string]struct{}) string {
	for {
		id := s.newID()
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			return id
		}
	}
}

func (s *MemoryStore) ListPizzas() []Pizza {
	s.pizzasMu.RLock()
	defer s.pizzasMu.RUnlock()
	out := make([]Pizza, 0, len(s.pizzas))
	for _, p := range s.pizzas {
		out = append(out, p)
	}
	return out
}

func (s *MemoryStore) GetPizza(id string) (Pizza, bool) {
	s.pizzasMu.RLock()
	defer s.pizzasMu.RUnlock()
	p, ok := s.pizzas[id]
	return p, ok
}

func (s *MemoryStore) AddPizza(name, description string, price decimal.Decimal) Pizza {
	s.pizzasMu.Lock()
	defer s.pizzasMu.Unlock()
	p := Pizza{
		PizzaID:     s.uniqueID(s.pizzaIDs),
		Name:        name,
		Description: description,
		Price:       price,
	}
	s.pizzas[p.PizzaID] = p
	return p
}

func (s *MemoryStore) SeedPizza(p Pizza) error {
	s.pizzasMu.Lock()
	defer s.pizzasMu.Unlock()
	if _, ok := s.pizzaIDs[p.PizzaID]; ok {
		return fmt.Errorf("pizza id %q already in use", p.PizzaID)
	}
	s.pizzaIDs[p.PizzaID] = struct{}{}
	s.pizzas[p.PizzaID] = p
	return nil
}

func (s *MemoryStore) RemovePizza(id string) bool {
	s.pizzasMu.Lock()
	defer s.pizzasMu.Unlock()
	if _, ok := s.pizzas[id]; !ok {
		return false
	}
	delete(s.pizzas, id)
	return true
}

func (s *MemoryStore) CreateOrder(items []LineItem) Order {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	o := Order{
		OrderID:   s.uniqueID(s.orderIDs),
		Items:     append([]LineItem(nil), items...),
		Status:    StatusPending,
		Timestamp: s.now().UTC(),
	}
	s.orders[o.OrderID] = o
	return o.clone()
}

func (s *MemoryStore) GetOrder(id string) (Order, bool) {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.clone(), true
}

func (s *MemoryStore) ListOrders() []Order {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.clone())
	}
	return out
}

func (s *MemoryStore) SetOrderStatus(id string, status OrderStatus) (Order, bool) {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, false
	}
	o.Status = status
	s.orders[id] = o
	return o.clone(), true
}

// RemoveOrderIf removes the order only when allow accepts it. The order is
// returned whenever it exists, together with the error from allow.
func (s *MemoryStore) RemoveOrderIf(id string, allow func(Order) error) (Order, bool, error) {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, false, nil
	}
	if err := allow(o.clone()); err != nil {
		return o.clone(), true, err
	}
	delete(s.orders, id)
	return o.clone(), true, nil
}

func (s *MemoryStore) RemoveOrder(id string) bool {
	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return false
	}
	delete(s.orders, id)
	return true
}
