package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices go over the wire as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

type Pizza struct {
	PizzaID     string          `json:"pizza_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price" swaggertype:"number"`
}

// LineItem is a snapshot of a pizza taken when the order was placed.
type LineItem struct {
	PizzaID  string          `json:"pizza_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price" swaggertype:"number"`
	Quantity int             `json:"quantity"`
}

type Order struct {
	OrderID   string      `json:"order_id"`
	Items     []LineItem  `json:"items"`
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

func (o Order) clone() Order {
	o.Items = append([]LineItem(nil), o.Items...)
	return o
}

type OrderStatus string

const (
	StatusPending          OrderStatus = "pending"
	StatusPreparing        OrderStatus = "preparing"
	StatusReadyForDelivery OrderStatus = "ready_for_delivery"
	StatusDelivered        OrderStatus = "delivered"
	StatusCancelled        OrderStatus = "cancelled"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	StatusPending,
	StatusPreparing,
	StatusReadyForDelivery,
	StatusDelivered,
	StatusCancelled,
}

var forward = map[OrderStatus]OrderStatus{
	StatusPending:          StatusPreparing,
	StatusPreparing:        StatusReadyForDelivery,
	StatusReadyForDelivery: StatusDelivered,
}

func (s OrderStatus) Valid() bool {
	_, ok := forward[s]
	return ok || s.Terminal()
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CustomerCancellable reports whether a customer may still cancel an order in status s.
func (s OrderStatus) CustomerCancellable() bool {
	return s == StatusPending || s == StatusPreparing
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Admins may cancel from any non-terminal status, customers only while the
// kitchen has not finished the order.
func (s OrderStatus) CanTransition(next OrderStatus, privileged bool) bool {
	if next == StatusCancelled {
		if privileged {
			return !s.Terminal()
		}
		return s.CustomerCancellable()
	}
	return forward[s] == next
}

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// opError carries a caller-facing message while still matching its kind with errors.Is.
type opError struct {
	kind error
	msg  string
}

func (e *opError) Error() string { return e.msg }

func (e *opError) Unwrap() error { return e.kind }

func newOpError(kind error, format string, args ...any) error {
	return &opError{kind: kind, msg: fmt.Sprintf(format, args...)}
}
