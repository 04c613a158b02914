package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/taldoflemis/pizzabox/pacchetto/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NATSOrderPubSubber persists order events on a JetStream stream and serves
// live subscribers from plain NATS subscriptions on the same subjects.
type NATSOrderPubSubber struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string

	mu   sync.Mutex
	subs map[LiveSubscriber]*nats.Subscription
}

var _ OrderPubSubber = (*NATSOrderPubSubber)(nil)

func NewNATSOrderPubSubber(ctx context.Context, nc *nats.Conn, subject, streamName string) (*NATSOrderPubSubber, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create jetstream context", slog.Any("err", err))
		return nil, err
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subject + ".>"},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create order stream", slog.String("stream", streamName), slog.Any("err", err))
		return nil, err
	}

	return &NATSOrderPubSubber{
		nc:      nc,
		js:      js,
		subject: subject,
		subs:    make(map[LiveSubscriber]*nats.Subscription),
	}, nil
}

func (n *NATSOrderPubSubber) eventSubject(event OrderEvent) string {
	return fmt.Sprintf("%s.%s.%s", n.subject, event.Kind, event.Order.OrderID)
}

// PubOrderEvent implements OrderPubSubber.
func (n *NATSOrderPubSubber) PubOrderEvent(ctx context.Context, event OrderEvent) error {
	ctx, span := tracer.Start(ctx, "NATSOrderPubSubber.PubOrderEvent", trace.WithAttributes(
		attribute.String("pizzabox.orderid", event.Order.OrderID),
		attribute.String("pizzabox.event", string(event.Kind)),
	))
	defer span.End()

	msg := &nats.Msg{
		Subject: n.eventSubject(event),
		Header:  nats.Header{},
	}
	telemetry.InjectContextToNatsMsg(ctx, msg)

	data, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal order event", slog.Any("err", err))
		span.SetStatus(codes.Error, "failed to marshal order event")
		span.RecordError(err)
		return err
	}
	msg.Data = data

	_, err = n.js.PublishMsg(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to publish order event", slog.String("subject", msg.Subject), slog.Any("err", err))
		span.SetStatus(codes.Error, "failed to publish order event")
		span.RecordError(err)
		return err
	}

	slog.DebugContext(ctx, "published order event", slog.String("subject", msg.Subject))
	return nil
}

// SubLiveOrders implements OrderPubSubber.
func (n *NATSOrderPubSubber) SubLiveOrders(ctx context.Context, subscriber LiveSubscriber) (<-chan OrderEvent, error) {
	ctx, span := tracer.Start(ctx, "NATSOrderPubSubber.SubLiveOrders")
	defer span.End()

	eventCh := make(chan OrderEvent, liveSubscriberBuffer)
	sub, err := n.nc.Subscribe(n.subject+".>", func(msg *nats.Msg) {
		msgCtx := telemetry.GetContextFromNatsMsg(ctx, msg)

		var event OrderEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.ErrorContext(msgCtx, "failed to unmarshal order event from NATS message", slog.Any("err", err))
			return
		}

		select {
		case eventCh <- event:
		default:
			slog.WarnContext(msgCtx, "live subscriber is lagging, dropping order event", slog.String("order-id", event.Order.OrderID))
		}
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to subscribe to NATS subject", slog.String("subject", n.subject), slog.Any("err", err))
		span.SetStatus(codes.Error, "failed to subscribe to NATS subject")
		span.RecordError(err)
		return nil, err
	}

	n.mu.Lock()
	n.subs[subscriber] = sub
	n.mu.Unlock()

	return eventCh, nil
}

// UnsubLiveOrders implements OrderPubSubber.
func (n *NATSOrderPubSubber) UnsubLiveOrders(ctx context.Context, subscriber LiveSubscriber) error {
	ctx, span := tracer.Start(ctx, "NATSOrderPubSubber.UnsubLiveOrders")
	defer span.End()

	slog.InfoContext(ctx, "unsubscribing from live orders")

	n.mu.Lock()
	sub, ok := n.subs[subscriber]
	delete(n.subs, subscriber)
	n.mu.Unlock()

	if !ok {
		slog.WarnContext(ctx, "no subscription found for live order stream")
		return nil
	}

	return sub.Unsubscribe()
}
