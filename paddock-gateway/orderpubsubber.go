package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type OrderEventKind string

const (
	OrderCreated       OrderEventKind = "created"
	OrderStatusChanged OrderEventKind = "status_changed"
	OrderCancelled     OrderEventKind = "cancelled"
)

type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorAdmin    Actor = "admin"
)

type OrderEvent struct {
	Kind  OrderEventKind `json:"kind"`
	Actor Actor          `json:"actor"`
	Order Order          `json:"order"`
	At    time.Time      `json:"at"`
}

// LiveSubscriber identifies one live feed, the *echo.Response of an SSE
// stream or the *websocket.Conn of a websocket. It must be comparable.
type LiveSubscriber any

type OrderPubSubber interface {
	PubOrderEvent(ctx context.Context, event OrderEvent) error
	SubLiveOrders(ctx context.Context, subscriber LiveSubscriber) (<-chan OrderEvent, error)
	UnsubLiveOrders(ctx context.Context, subscriber LiveSubscriber) error
}

const liveSubscriberBuffer = 32

// GoChannelOrderPubSubber fans order events out to in-process subscribers.
// A subscriber whose buffer is full misses the event instead of stalling publishers.
type GoChannelOrderPubSubber struct {
	liveEventSubscribers map[LiveSubscriber]chan OrderEvent
	mu                   sync.Mutex
}

func NewGoChannelOrderPubSubber() *GoChannelOrderPubSubber {
	return &GoChannelOrderPubSubber{
		liveEventSubscribers: make(map[LiveSubscriber]chan OrderEvent),
	}
}

var _ OrderPubSubber = (*GoChannelOrderPubSubber)(nil)

// PubOrderEvent implements OrderPubSubber.
func (g *GoChannelOrderPubSubber) PubOrderEvent(ctx context.Context, event OrderEvent) error {
	ctx, span := tracer.Start(ctx, "GoChannelOrderPubSubber.PubOrderEvent", trace.WithAttributes(
		attribute.String("pizzabox.orderid", event.Order.OrderID),
		attribute.String("pizzabox.event", string(event.Kind)),
	))
	defer span.End()

	slog.DebugContext(ctx, "publishing order event", slog.String("order-id", event.Order.OrderID), slog.String("kind", string(event.Kind)))

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, subChan := range g.liveEventSubscribers {
		select {
		case subChan <- event:
		default:
			slog.WarnContext(ctx, "live subscriber is lagging, dropping order event", slog.String("order-id", event.Order.OrderID))
		}
	}

	return nil
}

// SubLiveOrders implements OrderPubSubber.
func (g *GoChannelOrderPubSubber) SubLiveOrders(ctx context.Context, subscriber LiveSubscriber) (<-chan OrderEvent, error) {
	ctx, span := tracer.Start(ctx, "GoChannelOrderPubSubber.SubLiveOrders")
	defer span.End()

	slog.InfoContext(ctx, "subscribing to live orders")

	ch := make(chan OrderEvent, liveSubscriberBuffer)
	g.mu.Lock()
	g.liveEventSubscribers[subscriber] = ch
	g.mu.Unlock()
	return ch, nil
}

// UnsubLiveOrders implements OrderPubSubber.
func (g *GoChannelOrderPubSubber) UnsubLiveOrders(ctx context.Context, subscriber LiveSubscriber) error {
	ctx, span := tracer.Start(ctx, "GoChannelOrderPubSubber.UnsubLiveOrders")
	defer span.End()

	slog.InfoContext(ctx, "unsubscribing from live orders")

	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.liveEventSubscribers[subscriber]; ok {
		delete(g.liveEventSubscribers, subscriber)
		close(ch)
	}
	return nil
}
