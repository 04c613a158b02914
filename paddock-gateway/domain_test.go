package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusValid(t *testing.T) {
	for _, s := range OrderStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, OrderStatus("baking").Valid())
	assert.False(t, OrderStatus("").Valid())
	assert.False(t, OrderStatus("Pending").Valid())
}

func TestOrderStatusCanTransition(t *testing.T) {
	tests := []struct {
		from       OrderStatus
		to         OrderStatus
		privileged bool
		want       bool
	}{
		{StatusPending, StatusPreparing, false, true},
		{StatusPreparing, StatusReadyForDelivery, false, true},
		{StatusReadyForDelivery, StatusDelivered, false, true},
		{StatusPending, StatusDelivered, false, false},
		{StatusDelivered, StatusPending, true, false},
		{StatusPreparing, StatusPending, true, false},

		{StatusPending, StatusCancelled, false, true},
		{StatusPreparing, StatusCancelled, false, true},
		{StatusReadyForDelivery, StatusCancelled, false, false},
		{StatusDelivered, StatusCancelled, false, false},

		{StatusPending, StatusCancelled, true, true},
		{StatusPreparing, StatusCancelled, true, true},
		{StatusReadyForDelivery, StatusCancelled, true, true},
		{StatusDelivered, StatusCancelled, true, false},
		{StatusCancelled, StatusCancelled, true, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransition(tt.to, tt.privileged)
		assert.Equal(t, tt.want, got, "%s -> %s (privileged=%v)", tt.from, tt.to, tt.privileged)
	}
}

func TestOrderStatusCustomerCancellable(t *testing.T) {
	assert.True(t, StatusPending.CustomerCancellable())
	assert.True(t, StatusPreparing.CustomerCancellable())
	assert.False(t, StatusReadyForDelivery.CustomerCancellable())
	assert.False(t, StatusDelivered.CustomerCancellable())
	assert.False(t, StatusCancelled.CustomerCancellable())
}

func TestOpErrorMatchesKind(t *testing.T) {
	err := newOpError(ErrNotFound, "Order with ID '%s' not found.", "abc123")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "Order with ID 'abc123' not found.", err.Error())
}
