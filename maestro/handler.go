package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/sourcegraph/conc/pool"
	"github.com/taldoflemis/pizzabox/pacchetto"
	"github.com/taldoflemis/pizzabox/pacchetto/pizzaclient"
	"github.com/taldoflemis/pizzabox/pacchetto/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("maestro")
	meter  = otel.Meter("maestro")
)

const (
	statusPending          = "pending"
	statusPreparing        = "preparing"
	statusReadyForDelivery = "ready_for_delivery"
)

// fetchRetryDelay is how long the maestro waits before pulling again after a
// failed fetch.
const fetchRetryDelay = 2 * time.Second

// errOrderGone means the order was removed before the kitchen finished with it.
var errOrderGone = errors.New("order no longer exists")

// orderEvent is the subset of the gateway's order event the kitchen reads.
type orderEvent struct {
	Kind  string `json:"kind"`
	Order struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	} `json:"order"`
}

// orderDesk is the part of the gateway API the kitchen drives.
type orderDesk interface {
	GetOrder(ctx context.Context, id string) (json.RawMessage, error)
	UpdateOrderStatus(ctx context.Context, id, status string) (json.RawMessage, error)
}

type maestroHandlerV1 struct {
	settings MaestroSettings
	desk     orderDesk
	consumer jetstream.Consumer
	// pause after a failed fetch
	fetchRetryDelay time.Duration
	// rolls the oversmoking dice for an order
	oversmoked func(orderID string) bool

	cookedCounter   metric.Int64Counter
	skippedCounter  metric.Int64Counter
	cookedHistogram metric.Float64Histogram
}

func newMaestroHandlerV1(settings MaestroSettings, desk orderDesk, consumer jetstream.Consumer) (*maestroHandlerV1, error) {
	ctx := context.Background()

	cookedCounter, err := meter.Int64Counter(
		"maestro.orders.cooked",
		metric.WithDescription("Number of orders the maestro has made ready for delivery"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create cooked counter", slog.Any("err", err))
		return nil, err
	}

	skippedCounter, err := meter.Int64Counter(
		"maestro.orders.skipped",
		metric.WithDescription("Number of orders cancelled or taken over before the maestro finished them"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create skipped counter", slog.Any("err", err))
		return nil, err
	}

	cookedHistogram, err := meter.Float64Histogram(
		"maestro.orders.cook_duration",
		metric.WithDescription("Time spent between taking an order and making it ready"),
		metric.WithUnit("s"),
	)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create cook histogram", slog.Any("err", err))
		return nil, err
	}

	return &maestroHandlerV1{
		settings: settings,
		desk:     desk,
		consumer: consumer,

		fetchRetryDelay: fetchRetryDelay,
		oversmoked: func(string) bool {
			return pacchetto.Roll(uint64(time.Now().UnixNano()), settings.ProbabilityOfOversmoking)
		},
		cookedCounter:   cookedCounter,
		skippedCounter:  skippedCounter,
		cookedHistogram: cookedHistogram,
	}, nil
}

// newOrderConsumer binds a durable pull consumer on the created order events.
func newOrderConsumer(ctx context.Context, js jetstream.JetStream, streamName, subject string) (jetstream.Consumer, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subject + ".>"},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to get stream", slog.Any("err", err))
		return nil, err
	}

	c, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       streamName + "_maestro_new_order_listener_v1",
		FilterSubject: fmt.Sprintf("%s.created.*", subject),
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", slog.Any("err", err))
		return nil, err
	}
	return c, nil
}

// startTurn pulls batches of new orders and cooks them with at most
// settings.Cooks orders in the oven at once, until ctx is done.
func (m *maestroHandlerV1) startTurn(ctx context.Context) {
	slog.InfoContext(ctx, "Maestro is starting his turn", slog.Int("cooks", m.settings.Cooks))

	for ctx.Err() == nil {
		orders, err := m.getNewBatchMessages(ctx)
		if err != nil {
			_ = sleep(ctx, m.fetchRetryDelay)
			continue
		}

		p := pool.New().WithMaxGoroutines(m.settings.Cooks)
		for order := range orders {
			p.Go(func() { m.processNewOrder(ctx, order) })
		}
		p.Wait()
	}

	slog.InfoContext(ctx, "Maestro finished his turn")
}

func (m *maestroHandlerV1) getNewBatchMessages(ctx context.Context) (<-chan jetstream.Msg, error) {
	ctx, span := tracer.Start(ctx, "maestroHandlerV1.getNewBatchMessages")
	defer span.End()

	slog.DebugContext(ctx, "Fetching new batch of messages")
	msgs, err := m.consumer.Fetch(m.settings.OrderBatchSize,
		jetstream.FetchMaxWait(time.Duration(m.settings.FetchMaxWaitInSeconds)*time.Second),
	)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to consume messages", slog.Any("err", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return msgs.Messages(), nil
}

func (m *maestroHandlerV1) processNewOrder(ctx context.Context, msg jetstream.Msg) {
	ctx = telemetry.GetContextFromJetstreamMsg(ctx, msg)
	ctx, span := tracer.Start(ctx, "maestroHandlerV1.processNewOrder")
	defer span.End()

	var event orderEvent
	err := json.Unmarshal(msg.Data(), &event)
	if err != nil {
		slog.ErrorContext(ctx, "failed to unmarshal order event from NATS message", slog.Any("err", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// a message that cannot be decoded will never succeed
		if err := msg.Term(); err != nil {
			slog.ErrorContext(ctx, "Failed to terminate message", slog.Any("err", err))
		}
		return
	}
	span.SetAttributes(attribute.String("pizzabox.orderid", event.Order.OrderID))

	err = msg.InProgress()
	if err != nil {
		slog.ErrorContext(ctx, "failed to set message in progress", slog.Any("err", err))
	}

	err = m.cook(ctx, event.Order.OrderID)
	switch {
	case errors.Is(err, errOrderGone):
		slog.InfoContext(ctx, "Order vanished before it was ready", slog.String("order-id", event.Order.OrderID))
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if err := msg.Nak(); err != nil {
			slog.ErrorContext(ctx, "Failed to nak message", slog.Any("err", err))
		}
		return
	}

	err = msg.Ack()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to acknowledge message", slog.Any("err", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// cook moves a pending order to preparing, waits for the oven and marks it
// ready for delivery. An order already preparing (a redelivered event) is
// resumed; any other status is left alone. It backs off when the order was
// cancelled or its status was changed by someone else meanwhile.
func (m *maestroHandlerV1) cook(ctx context.Context, orderID string) error {
	ctx, span := tracer.Start(ctx, "maestroHandlerV1.cook", trace.WithAttributes(
		attribute.String("pizzabox.orderid", orderID),
	))
	defer span.End()

	started := time.Now()

	status, err := m.orderStatus(ctx, orderID)
	if err != nil {
		return err
	}
	switch status {
	case statusPending:
		_, err = m.desk.UpdateOrderStatus(ctx, orderID, statusPreparing)
		if err != nil {
			return m.deskError(ctx, orderID, err)
		}
		slog.InfoContext(ctx, "Preparing order", slog.String("order-id", orderID))
	case statusPreparing:
		slog.InfoContext(ctx, "Resuming order already in preparation", slog.String("order-id", orderID))
	default:
		slog.InfoContext(ctx, "Order is past the kitchen, leaving it alone", slog.String("order-id", orderID), slog.String("status", status))
		m.skippedCounter.Add(ctx, 1)
		return nil
	}

	ovenDuration := time.Duration(m.settings.OvenDurationInSeconds) * time.Second
	if m.oversmoked(orderID) {
		ovenDuration = time.Duration(float64(ovenDuration) * m.settings.OversmokingFactor)
		slog.DebugContext(ctx, "Maestro has oversmoked the pizza", slog.String("order-id", orderID), slog.Duration("new-oven-duration", ovenDuration))
		span.SetAttributes(attribute.Bool("maestro.oversmoked", true))
	}

	err = sleep(ctx, time.Duration(m.settings.PrepDurationInSeconds)*time.Second+ovenDuration)
	if err != nil {
		return err
	}

	status, err = m.orderStatus(ctx, orderID)
	if err != nil {
		return err
	}
	if status != statusPreparing {
		slog.InfoContext(ctx, "Order status changed while cooking, leaving it alone", slog.String("order-id", orderID), slog.String("status", status))
		m.skippedCounter.Add(ctx, 1)
		return nil
	}

	_, err = m.desk.UpdateOrderStatus(ctx, orderID, statusReadyForDelivery)
	if err != nil {
		return m.deskError(ctx, orderID, err)
	}

	elapsed := time.Since(started)
	m.cookedCounter.Add(ctx, 1)
	m.cookedHistogram.Record(ctx, elapsed.Seconds())
	slog.InfoContext(ctx, "Order ready for delivery", slog.String("order-id", orderID), slog.Duration("took", elapsed))
	return nil
}

func (m *maestroHandlerV1) orderStatus(ctx context.Context, orderID string) (string, error) {
	raw, err := m.desk.GetOrder(ctx, orderID)
	if err != nil {
		return "", m.deskError(ctx, orderID, err)
	}
	var current struct {
		Status string `json:"status"`
	}
	err = json.Unmarshal(raw, &current)
	if err != nil {
		return "", err
	}
	return current.Status, nil
}

func (m *maestroHandlerV1) deskError(ctx context.Context, orderID string, err error) error {
	if pizzaclient.IsNotFound(err) {
		m.skippedCounter.Add(ctx, 1)
		return errOrderGone
	}
	slog.ErrorContext(ctx, "gateway request failed", slog.String("order-id", orderID), slog.Any("err", err))
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
