package main

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequenceIDs hands out the given ids in order, then falls back to a counter.
func sequenceIDs(ids ...string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n <= len(ids) {
			return ids[n-1]
		}
		return fmt.Sprintf("id%04d", n)
	}
}

func TestMemoryStorePizzaCRUD(t *testing.T) {
	store := NewMemoryStore()

	p := store.AddPizza("Diavola", "Spicy salami", decimal.RequireFromString("13.50"))
	require.Len(t, p.PizzaID, 6)

	got, ok := store.GetPizza(p.PizzaID)
	require.True(t, ok)
	assert.Equal(t, p, got)
	assert.Len(t, store.ListPizzas(), 1)

	assert.True(t, store.RemovePizza(p.PizzaID))
	assert.False(t, store.RemovePizza(p.PizzaID))

	_, ok = store.GetPizza(p.PizzaID)
	assert.False(t, ok)
	assert.Empty(t, store.ListPizzas())
}

func TestMemoryStoreSeedPizza(t *testing.T) {
	store := NewMemoryStore()
	seed := Pizza{PizzaID: "pizza1", Name: "Margherita", Description: "Classic cheese and tomato", Price: decimal.NewFromInt(10)}

	require.NoError(t, store.SeedPizza(seed))
	assert.Error(t, store.SeedPizza(seed))

	got, ok := store.GetPizza("pizza1")
	require.True(t, ok)
	assert.Equal(t, "Margherita", got.Name)
}

func TestMemoryStoreNeverReusesIDs(t *testing.T) {
	store := NewMemoryStore(WithIDGenerator(sequenceIDs("pizza1", "aaaaaa", "aaaaaa", "bbbbbb")))
	require.NoError(t, store.SeedPizza(Pizza{PizzaID: "seeded", Name: "x", Description: "y", Price: decimal.NewFromInt(1)}))

	first := store.AddPizza("A", "a", decimal.NewFromInt(1))
	assert.Equal(t, "pizza1", first.PizzaID)
	require.True(t, store.RemovePizza(first.PizzaID))

	second := store.AddPizza("B", "b", decimal.NewFromInt(1))
	assert.Equal(t, "aaaaaa", second.PizzaID)

	// aaaaaa is taken so the generator is asked again
	third := store.AddPizza("C", "c", decimal.NewFromInt(1))
	assert.Equal(t, "bbbbbb", third.PizzaID)
}

func TestMemoryStoreRemovedOrderIDNotReissued(t *testing.T) {
	store := NewMemoryStore(WithIDGenerator(sequenceIDs("order1", "order1", "order2")))

	o := store.CreateOrder([]LineItem{{PizzaID: "pizza1", Name: "Margherita", Price: decimal.NewFromInt(10), Quantity: 1}})
	require.Equal(t, "order1", o.OrderID)
	require.True(t, store.RemoveOrder(o.OrderID))

	next := store.CreateOrder([]LineItem{{PizzaID: "pizza1", Name: "Margherita", Price: decimal.NewFromInt(10), Quantity: 1}})
	assert.Equal(t, "order2", next.OrderID)
}

func TestMemoryStoreOrderLifecycle(t *testing.T) {
	now := time.Date(2025, 5, 20, 18, 30, 0, 0, time.FixedZone("CEST", 2*60*60))
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	items := []LineItem{{PizzaID: "pizza1", Name: "Margherita", Price: decimal.NewFromInt(10), Quantity: 2}}
	o := store.CreateOrder(items)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, now.UTC(), o.Timestamp)
	assert.Equal(t, items, o.Items)

	updated, ok := store.SetOrderStatus(o.OrderID, StatusPreparing)
	require.True(t, ok)
	assert.Equal(t, StatusPreparing, updated.Status)

	got, ok := store.GetOrder(o.OrderID)
	require.True(t, ok)
	assert.Equal(t, StatusPreparing, got.Status)
	assert.Len(t, store.ListOrders(), 1)

	_, ok = store.SetOrderStatus("missing", StatusDelivered)
	assert.False(t, ok)

	assert.True(t, store.RemoveOrder(o.OrderID))
	assert.False(t, store.RemoveOrder(o.OrderID))
	_, ok = store.GetOrder(o.OrderID)
	assert.False(t, ok)
}

func TestMemoryStoreRemoveOrderIf(t *testing.T) {
	store := NewMemoryStore()
	o := store.CreateOrder([]LineItem{{PizzaID: "pizza1", Name: "Margherita", Price: decimal.NewFromInt(10), Quantity: 1}})

	_, found, err := store.RemoveOrderIf("missing", func(Order) error { return nil })
	assert.False(t, found)
	assert.NoError(t, err)

	refused := errors.New("refused")
	got, found, err := store.RemoveOrderIf(o.OrderID, func(Order) error { return refused })
	assert.True(t, found)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, o.OrderID, got.OrderID)
	_, ok := store.GetOrder(o.OrderID)
	assert.True(t, ok)

	_, found, err = store.RemoveOrderIf(o.OrderID, func(Order) error { return nil })
	assert.True(t, found)
	assert.NoError(t, err)
	_, ok = store.GetOrder(o.OrderID)
	assert.False(t, ok)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	items := []LineItem{{PizzaID: "pizza1", Name: "Margherita", Price: decimal.NewFromInt(10), Quantity: 2}}
	o := store.CreateOrder(items)

	items[0].Quantity = 99
	o.Items[0].Name = "changed"
	listed := store.ListOrders()
	listed[0].Items[0].Quantity = 42

	got, ok := store.GetOrder(o.OrderID)
	require.True(t, ok)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.Equal(t, "Margherita", got.Items[0].Name)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SeedPizza(Pizza{PizzaID: "pizza1", Name: "Margherita", Description: "Classic", Price: decimal.NewFromInt(10)}))

	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	ids := make(chan string, workers*perWorker)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				o := store.CreateOrder([]LineItem{{PizzaID: "pizza1", Quantity: 1}})
				ids <- o.OrderID
				store.ListPizzas()
				store.GetOrder(o.OrderID)
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate order id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, store.ListOrders(), workers*perWorker)
}
