package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/taldoflemis/pizzabox/pacchetto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Pizzeria validates requests and applies the ordering rules on top of a Store.
type Pizzeria struct {
	store    Store
	events   OrderPubSubber
	validate *validator.Validate
	now      func() time.Time

	ordersCreated   metric.Int64Counter
	ordersCancelled metric.Int64Counter
	statusChanges   metric.Int64Counter
}

func NewPizzeria(store Store, events OrderPubSubber) (*Pizzeria, error) {
	ordersCreated, err := meter.Int64Counter("pizzabox.orders.created",
		metric.WithDescription("Number of orders placed"),
		metric.WithUnit("{order}"))
	if err != nil {
		return nil, err
	}
	ordersCancelled, err := meter.Int64Counter("pizzabox.orders.cancelled",
		metric.WithDescription("Number of orders cancelled by customers or admins"),
		metric.WithUnit("{order}"))
	if err != nil {
		return nil, err
	}
	statusChanges, err := meter.Int64Counter("pizzabox.orders.status_changes",
		metric.WithDescription("Number of order status updates"),
		metric.WithUnit("{update}"))
	if err != nil {
		return nil, err
	}

	return &Pizzeria{
		store:           store,
		events:          events,
		validate:        newRequestValidator(),
		now:             time.Now,
		ordersCreated:   ordersCreated,
		ordersCancelled: ordersCancelled,
		statusChanges:   statusChanges,
	}, nil
}

func newRequestValidator() *validator.Validate {
	validate := pacchetto.NewValidator()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return validate
}

// validationError turns validator output into an ErrInvalidInput naming each offending field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newOpError(ErrInvalidInput, "Invalid request: %v", err)
	}

	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}

		var reason string
		switch fe.Tag() {
		case "required":
			reason = "is required"
		case "notblank":
			reason = "must be a non-empty string"
		case "min":
			reason = fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		case "gt":
			reason = fmt.Sprintf("must be greater than %s", fe.Param())
		case "oneof":
			reason = "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
		default:
			reason = "failed the '" + fe.Tag() + "' check"
		}
		details = append(details, fmt.Sprintf("'%s' %s", field, reason))
	}
	return newOpError(ErrInvalidInput, "Invalid request: %s.", strings.Join(details, "; "))
}

func failSpan(span trace.Span, err error) {
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}

// publish announces an order event. A failed publication never fails the
// mutation that triggered it.
func (p *Pizzeria) publish(ctx context.Context, kind OrderEventKind, actor Actor, order Order) {
	err := p.events.PubOrderEvent(ctx, OrderEvent{
		Kind:  kind,
		Actor: actor,
		Order: order,
		At:    p.now().UTC(),
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to publish order event",
			slog.String("order-id", order.OrderID),
			slog.String("kind", string(kind)),
			slog.Any("err", err))
	}
}

// SeedMenu loads the startup catalog. Any invalid entry aborts the seed.
func (p *Pizzeria) SeedMenu(ctx context.Context, pizzas []Pizza) error {
	for _, pz := range pizzas {
		switch {
		case strings.TrimSpace(pz.PizzaID) == "":
			return fmt.Errorf("seed pizza %q: blank id", pz.Name)
		case strings.TrimSpace(pz.Name) == "":
			return fmt.Errorf("seed pizza %q: blank name", pz.PizzaID)
		case strings.TrimSpace(pz.Description) == "":
			return fmt.Errorf("seed pizza %q: blank description", pz.PizzaID)
		case !pz.Price.IsPositive():
			return fmt.Errorf("seed pizza %q: price must be positive, got %s", pz.PizzaID, pz.Price)
		}
		if err := p.store.SeedPizza(pz); err != nil {
			return fmt.Errorf("seed pizza %q: %w", pz.PizzaID, err)
		}
	}
	slog.InfoContext(ctx, "menu seeded", slog.Int("pizzas", len(pizzas)))
	return nil
}

// ListMenu returns the catalog sorted by pizza id.
func (p *Pizzeria) ListMenu(ctx context.Context) []Pizza {
	_, span := tracer.Start(ctx, "Pizzeria.ListMenu")
	defer span.End()

	pizzas := p.store.ListPizzas()
	slices.SortFunc(pizzas, func(a, b Pizza) int { return cmp.Compare(a.PizzaID, b.PizzaID) })
	span.SetAttributes(attribute.Int("pizzabox.pizzas", len(pizzas)))
	return pizzas
}

func (p *Pizzeria) CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error) {
	ctx, span := tracer.Start(ctx, "Pizzeria.CreateOrder")
	defer span.End()

	if err := p.validate.Struct(req); err != nil {
		err = validationError(err)
		failSpan(span, err)
		return Order{}, err
	}

	items := make([]LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		pz, ok := p.store.GetPizza(it.PizzaID)
		if !ok {
			err := newOpError(ErrNotFound, "Pizza with ID '%s' not found.", it.PizzaID)
			failSpan(span, err)
			return Order{}, err
		}
		items = append(items, LineItem{
			PizzaID:  pz.PizzaID,
			Name:     pz.Name,
			Price:    pz.Price,
			Quantity: it.Quantity,
		})
	}

	order := p.store.CreateOrder(items)
	span.SetAttributes(attribute.String("pizzabox.orderid", order.OrderID))
	slog.InfoContext(ctx, "order created", slog.String("order-id", order.OrderID), slog.Int("items", len(items)))

	p.ordersCreated.Add(ctx, 1)
	p.publish(ctx, OrderCreated, ActorCustomer, order)
	return order, nil
}

func (p *Pizzeria) GetOrder(ctx context.Context, id string) (Order, error) {
	_, span := tracer.Start(ctx, "Pizzeria.GetOrder", trace.WithAttributes(attribute.String("pizzabox.orderid", id)))
	defer span.End()

	order, ok := p.store.GetOrder(id)
	if !ok {
		err := newOpError(ErrNotFound, "Order with ID '%s' not found.", id)
		failSpan(span, err)
		return Order{}, err
	}
	return order, nil
}

// CancelOrder is the customer cancellation. It deletes the order unless the
// kitchen has finished it (ready_for_delivery or delivered).
func (p *Pizzeria) CancelOrder(ctx context.Context, id string) (MessageResponse, error) {
	ctx, span := tracer.Start(ctx, "Pizzeria.CancelOrder", trace.WithAttributes(attribute.String("pizzabox.orderid", id)))
	defer span.End()

	order, found, err := p.store.RemoveOrderIf(id, func(o Order) error {
		if o.Status == StatusReadyForDelivery || o.Status == StatusDelivered {
			return newOpError(ErrForbidden, "Order cannot be cancelled. Status is '%s'.", o.Status)
		}
		return nil
	})
	if !found {
		err = newOpError(ErrNotFound, "Order with ID '%s' not found.", id)
	}
	if err != nil {
		failSpan(span, err)
		return MessageResponse{}, err
	}

	slog.InfoContext(ctx, "order cancelled by customer", slog.String("order-id", id))
	p.ordersCancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("actor", string(ActorCustomer))))
	order.Status = StatusCancelled
	p.publish(ctx, OrderCancelled, ActorCustomer, order)
	return MessageResponse{Message: fmt.Sprintf("Order with ID '%s' cancelled successfully.", id)}, nil
}

func (p *Pizzeria) AddPizza(ctx context.Context, req AddPizzaRequest) (Pizza, error) {
	ctx, span := tracer.Start(ctx, "Pizzeria.AddPizza")
	defer span.End()

	if err := p.validate.Struct(req); err != nil {
		err = validationError(err)
		failSpan(span, err)
		return Pizza{}, err
	}

	pz := p.store.AddPizza(req.Name, req.Description, decimal.NewFromFloat(req.Price))
	span.SetAttributes(attribute.String("pizzabox.pizzaid", pz.PizzaID))
	slog.InfoContext(ctx, "pizza added", slog.String("pizza-id", pz.PizzaID), slog.String("name", pz.Name))
	return pz, nil
}

func (p *Pizzeria) DeletePizza(ctx context.Context, id string) (MessageResponse, error) {
	ctx, span := tracer.Start(ctx, "Pizzeria.DeletePizza", trace.WithAttributes(attribute.String("pizzabox.pizzaid", id)))
	defer span.End()

	if !p.store.RemovePizza(id) {
		err := newOpError(ErrNotFound, "Pizza with ID '%s' not found.", id)
		failSpan(span, err)
		return MessageResponse{}, err
	}

	slog.InfoContext(ctx, "pizza deleted", slog.String("pizza-id", id))
	return MessageResponse{Message: fmt.Sprintf("Pizza with ID '%s' deleted successfully.", id)}, nil
}

// AdminCancelOrder removes the order whatever its status.
func (p *Pizzeria) AdminCancelOrder(ctx context.Context, id string) (MessageResponse, error) {
	ctx, span := tracer.Start(ctx, "Pizzeria.AdminCancelOrder", trace.WithAttributes(attribute.String("pizzabox.orderid", id)))
	defer span.End()

	order, found, _ := p.store.RemoveOrderIf(id, func(Order) error { return nil })
	if !found {
		err := newOpError(ErrNotFound, "Order with ID '%s' not found.", id)
		failSpan(span, err)
		return MessageResponse{}, err
	}

	slog.InfoContext(ctx, "order cancelled by admin", slog.String("order-id", id), slog.String("previous-status", string(order.Status)))
	p.ordersCancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("actor", string(ActorAdmin))))
	order.Status = StatusCancelled
	p.publish(ctx, OrderCancelled, ActorAdmin, order)
	return MessageResponse{Message: fmt.Sprintf("Order with ID '%s' cancelled by admin.", id)}, nil
}

// ListOrders returns every order, oldest first.
func (p *Pizzeria) ListOrders(ctx context.Context) []Order {
	_, span := tracer.Start(ctx, "Pizzeria.ListOrders")
	defer span.End()

	orders := p.store.ListOrders()
	slices.SortFunc(orders, func(a, b Order) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.OrderID, b.OrderID)
	})
	span.SetAttributes(attribute.Int("pizzabox.orders", len(orders)))
	return orders
}

// UpdateOrderStatus overwrites the status. Admins are not held to the lifecycle order.
func (p *Pizzeria) UpdateOrderStatus(ctx context.Context, id string, req UpdateOrderStatusRequest) (Order, error) {
	ctx, span := tracer.Start(ctx, "Pizzeria.UpdateOrderStatus", trace.WithAttributes(attribute.String("pizzabox.orderid", id)))
	defer span.End()

	if err := p.validate.Struct(req); err != nil {
		err = validationError(err)
		failSpan(span, err)
		return Order{}, err
	}

	order, ok := p.store.SetOrderStatus(id, req.Status)
	if !ok {
		err := newOpError(ErrNotFound, "Order with ID '%s' not found.", id)
		failSpan(span, err)
		return Order{}, err
	}

	slog.InfoContext(ctx, "order status updated", slog.String("order-id", id), slog.String("status", string(order.Status)))
	p.statusChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(order.Status))))
	p.publish(ctx, OrderStatusChanged, ActorAdmin, order)
	return order, nil
}
