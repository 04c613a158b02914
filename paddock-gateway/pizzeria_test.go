package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPubSubber struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (r *recordingPubSubber) PubOrderEvent(_ context.Context, event OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingPubSubber) SubLiveOrders(context.Context, LiveSubscriber) (<-chan OrderEvent, error) {
	return nil, errors.New("not supported")
}

func (r *recordingPubSubber) UnsubLiveOrders(context.Context, LiveSubscriber) error {
	return nil
}

func (r *recordingPubSubber) kinds() []OrderEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OrderEventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

var defaultMenu = []Pizza{
	{PizzaID: "pizza1", Name: "Margherita", Description: "Classic cheese and tomato", Price: decimal.RequireFromString("10.00")},
	{PizzaID: "pizza2", Name: "Pepperoni", Description: "Spicy pepperoni and mozzarella", Price: decimal.RequireFromString("12.50")},
	{PizzaID: "pizza3", Name: "Veggie Delight", Description: "Mushrooms, onions, peppers, olives", Price: decimal.RequireFromString("11.00")},
}

func newTestPizzeria(t *testing.T) (*Pizzeria, *MemoryStore, *recordingPubSubber) {
	t.Helper()
	store := NewMemoryStore()
	events := &recordingPubSubber{}
	p, err := NewPizzeria(store, events)
	require.NoError(t, err)
	require.NoError(t, p.SeedMenu(context.Background(), defaultMenu))
	return p, store, events
}

func orderOf(items ...OrderItemRequest) CreateOrderRequest {
	return CreateOrderRequest{Items: items}
}

func TestPizzeriaListMenu(t *testing.T) {
	p, _, _ := newTestPizzeria(t)

	menu := p.ListMenu(context.Background())
	require.Len(t, menu, 3)
	assert.Equal(t, "pizza1", menu[0].PizzaID)
	assert.Equal(t, "12.5", menu[1].Price.String())
}

func TestPizzeriaCreateOrder(t *testing.T) {
	p, _, events := newTestPizzeria(t)
	ctx := context.Background()

	order, err := p.CreateOrder(ctx, orderOf(
		OrderItemRequest{PizzaID: "pizza1", Quantity: 2},
		OrderItemRequest{PizzaID: "pizza3", Quantity: 1},
	))
	require.NoError(t, err)

	assert.Len(t, order.OrderID, 6)
	assert.Equal(t, StatusPending, order.Status)
	require.Len(t, order.Items, 2)
	assert.Equal(t, LineItem{PizzaID: "pizza1", Name: "Margherita", Price: decimal.RequireFromString("10.00"), Quantity: 2}, order.Items[0])
	assert.Equal(t, "Veggie Delight", order.Items[1].Name)
	assert.Equal(t, []OrderEventKind{OrderCreated}, events.kinds())

	got, err := p.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order, got)
}

func TestPizzeriaCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateOrderRequest
		wantMsg string
	}{
		{
			name:    "no items",
			req:     CreateOrderRequest{},
			wantMsg: "'items' is required",
		},
		{
			name:    "empty items",
			req:     CreateOrderRequest{Items: []OrderItemRequest{}},
			wantMsg: "'items' must contain at least 1 item(s)",
		},
		{
			name:    "blank pizza id",
			req:     orderOf(OrderItemRequest{PizzaID: "  ", Quantity: 1}),
			wantMsg: "'items[0].pizza_id' must be a non-empty string",
		},
		{
			name:    "zero quantity",
			req:     orderOf(OrderItemRequest{PizzaID: "pizza1", Quantity: 1}, OrderItemRequest{PizzaID: "pizza2"}),
			wantMsg: "'items[1].quantity' must be greater than 0",
		},
		{
			name:    "negative quantity",
			req:     orderOf(OrderItemRequest{PizzaID: "pizza1", Quantity: -3}),
			wantMsg: "'items[0].quantity' must be greater than 0",
		},
		{
			name:    "schema checked before catalog",
			req:     orderOf(OrderItemRequest{PizzaID: "nope", Quantity: 0}),
			wantMsg: "'items[0].quantity' must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store, events := newTestPizzeria(t)

			_, err := p.CreateOrder(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Empty(t, store.ListOrders())
			assert.Empty(t, events.kinds())
		})
	}
}

func TestPizzeriaCreateOrderUnknownPizza(t *testing.T) {
	p, store, events := newTestPizzeria(t)

	_, err := p.CreateOrder(context.Background(), orderOf(
		OrderItemRequest{PizzaID: "pizza1", Quantity: 1},
		OrderItemRequest{PizzaID: "pizza99", Quantity: 1},
	))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Pizza with ID 'pizza99' not found.", err.Error())
	assert.Empty(t, store.ListOrders())
	assert.Empty(t, events.kinds())
}

func TestPizzeriaOrderKeepsSnapshotAfterPizzaDeleted(t *testing.T) {
	p, _, _ := newTestPizzeria(t)
	ctx := context.Background()

	order, err := p.CreateOrder(ctx, orderOf(OrderItemRequest{PizzaID: "pizza2", Quantity: 1}))
	require.NoError(t, err)

	_, err = p.DeletePizza(ctx, "pizza2")
	require.NoError(t, err)

	got, err := p.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "Pepperoni", got.Items[0].Name)
	assert.True(t, decimal.RequireFromString("12.50").Equal(got.Items[0].Price))

	_, err = p.CreateOrder(ctx, orderOf(OrderItemRequest{PizzaID: "pizza2", Quantity: 1}))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPizzeriaGetOrderNotFound(t *testing.T) {
	p, _, _ := newTestPizzeria(t)

	_, err := p.GetOrder(context.Background(), "abc123")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Order with ID 'abc123' not found.", err.Error())
}

func TestPizzeriaCustomerCancel(t *testing.T) {
	tests := []struct {
		status    OrderStatus
		wantErr   error
		wantCount int
	}{
		{status: StatusPending, wantCount: 0},
		{status: StatusPreparing, wantCount: 0},
		{status: StatusReadyForDelivery, wantErr: ErrForbidden, wantCount: 1},
		{status: StatusDelivered, wantErr: ErrForbidden, wantCount: 1},
		{status: StatusCancelled, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			p, store, events := newTestPizzeria(t)
			ctx := context.Background()

			order, err := p.CreateOrder(ctx, orderOf(OrderItemRequest{PizzaID: "pizza1", Quantity: 1}))
			require.NoError(t, err)
			_, ok := store.SetOrderStatus(order.OrderID, tt.status)
			require.True(t, ok)

			msg, err := p.CancelOrder(ctx, order.OrderID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "Order cannot be cancelled. Status is '"+string(tt.status)+"'.", err.Error())
				assert.Equal(t, []OrderEventKind{OrderCreated}, events.kinds())
			} else {
				require.NoError(t, err)
				assert.Equal(t, "Order with ID '"+order.OrderID+"' cancelled successfully.", msg.Message)
				assert.Equal(t, []OrderEventKind{OrderCreated, OrderCancelled}, events.kinds())
			}
			assert.Len(t, store.ListOrders(), tt.wantCount)
		})
	}
}

func TestPizzeriaCustomerCancelNotFound(t *testing.T) {
	p, _, _ := newTestPizzeria(t)

	_, err := p.CancelOrder(context.Background(), "ghost1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPizzeriaAdminCancelIgnoresStatus(t *testing.T) {
	p, store, events := newTestPizzeria(t)
	ctx := context.Background()

	order, err := p.CreateOrder(ctx, orderOf(OrderItemRequest{PizzaID: "pizza1", Quantity: 1}))
	require.NoError(t, err)
	_, ok := store.SetOrderStatus(order.OrderID, StatusDelivered)
	require.True(t, ok)

	msg, err := p.AdminCancelOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "Order with ID '"+order.OrderID+"' cancelled by admin.", msg.Message)
	assert.Empty(t, store.ListOrders())

	events.mu.Lock()
	last := events.events[len(events.events)-1]
	events.mu.Unlock()
	assert.Equal(t, OrderCancelled, last.Kind)
	assert.Equal(t, ActorAdmin, last.Actor)
	assert.Equal(t, StatusCancelled, last.Order.Status)

	_, err = p.AdminCancelOrder(ctx, order.OrderID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPizzeriaAddPizza(t *testing.T) {
	p, _, _ := newTestPizzeria(t)
	ctx := context.Background()

	pz, err := p.AddPizza(ctx, AddPizzaRequest{Name: "Hawaiian", Description: "Ham and pineapple", Price: 14})
	require.NoError(t, err)
	assert.NotEmpty(t, pz.PizzaID)
	assert.Equal(t, "14", pz.Price.String())

	menu := p.ListMenu(ctx)
	assert.Len(t, menu, 4)
	assert.Contains(t, menu, pz)
}

func TestPizzeriaAddPizzaValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     AddPizzaRequest
		wantMsg string
	}{
		{"blank name", AddPizzaRequest{Name: " ", Description: "d", Price: 1}, "'name' must be a non-empty string"},
		{"missing description", AddPizzaRequest{Name: "n", Price: 1}, "'description' must be a non-empty string"},
		{"zero price", AddPizzaRequest{Name: "n", Description: "d"}, "'price' must be greater than 0"},
		{"negative price", AddPizzaRequest{Name: "n", Description: "d", Price: -1}, "'price' must be greater than 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newTestPizzeria(t)

			_, err := p.AddPizza(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Len(t, p.ListMenu(context.Background()), 3)
		})
	}
}

func TestPizzeriaDeletePizza(t *testing.T) {
	p, _, _ := newTestPizzeria(t)
	ctx := context.Background()

	msg, err := p.DeletePizza(ctx, "pizza3")
	require.NoError(t, err)
	assert.Equal(t, "Pizza with ID 'pizza3' deleted successfully.", msg.Message)

	_, err = p.DeletePizza(ctx, "pizza3")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Pizza with ID 'pizza3' not found.", err.Error())
}

func TestPizzeriaUpdateOrderStatus(t *testing.T) {
	p, _, events := newTestPizzeria(t)
	ctx := context.Background()

	order, err := p.CreateOrder(ctx, orderOf(OrderItemRequest{PizzaID: "pizza1", Quantity: 1}))
	require.NoError(t, err)

	updated, err := p.UpdateOrderStatus(ctx, order.OrderID, UpdateOrderStatusRequest{Status: StatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, updated.Status)

	// admins may move an order backwards
	updated, err = p.UpdateOrderStatus(ctx, order.OrderID, UpdateOrderStatusRequest{Status: StatusPending})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, updated.Status)
	assert.Equal(t, []OrderEventKind{OrderCreated, OrderStatusChanged, OrderStatusChanged}, events.kinds())

	_, err = p.UpdateOrderStatus(ctx, order.OrderID, UpdateOrderStatusRequest{Status: "baking"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "pending, preparing, ready_for_delivery, delivered, cancelled")

	_, err = p.UpdateOrderStatus(ctx, order.OrderID, UpdateOrderStatusRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.UpdateOrderStatus(ctx, "nope00", UpdateOrderStatusRequest{Status: StatusPreparing})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := p.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestPizzeriaListOrders(t *testing.T) {
	p, _, _ := newTestPizzeria(t)
	ctx := context.Background()

	assert.Empty(t, p.ListOrders(ctx))
	for range 3 {
		_, err := p.CreateOrder(ctx, orderOf(OrderItemRequest{PizzaID: "pizza1", Quantity: 1}))
		require.NoError(t, err)
	}
	assert.Len(t, p.ListOrders(ctx), 3)
}

func TestPizzeriaPublishFailureDoesNotFailMutation(t *testing.T) {
	store := NewMemoryStore()
	events := &recordingPubSubber{err: errors.New("broker down")}
	p, err := NewPizzeria(store, events)
	require.NoError(t, err)
	require.NoError(t, p.SeedMenu(context.Background(), defaultMenu))

	order, err := p.CreateOrder(context.Background(), orderOf(OrderItemRequest{PizzaID: "pizza1", Quantity: 1}))
	require.NoError(t, err)
	assert.Len(t, store.ListOrders(), 1)
	assert.Equal(t, order.OrderID, store.ListOrders()[0].OrderID)
}

func TestPizzeriaSeedMenuRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name  string
		seed  []Pizza
		wants string
	}{
		{"duplicate id", []Pizza{defaultMenu[0], defaultMenu[0]}, "already in use"},
		{"blank name", []Pizza{{PizzaID: "p", Description: "d", Price: decimal.NewFromInt(1)}}, "blank name"},
		{"blank description", []Pizza{{PizzaID: "p", Name: "n", Price: decimal.NewFromInt(1)}}, "blank description"},
		{"zero price", []Pizza{{PizzaID: "p", Name: "n", Description: "d"}}, "price must be positive"},
		{"blank id", []Pizza{{Name: "n", Description: "d", Price: decimal.NewFromInt(1)}}, "blank id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPizzeria(NewMemoryStore(), &recordingPubSubber{})
			require.NoError(t, err)

			err = p.SeedMenu(context.Background(), tt.seed)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wants)
		})
	}
}
