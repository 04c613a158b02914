package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/taldoflemis/pizzabox/pacchetto/pizzaclient"
	"github.com/taldoflemis/pizzabox/pacchetto/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()
	retcode := 0
	defer func() {
		os.Exit(retcode)
	}()

	slog.InfoContext(ctx, "Launching el-maestro")

	slog.InfoContext(ctx, "Loading config")
	settings, err := LoadConfig()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", slog.Any("err", err))
		retcode = 1
		return
	}
	if !settings.Nats.Enabled {
		slog.ErrorContext(ctx, "maestro needs NATS to receive orders, set MAESTRO_NATS_ENABLED=true")
		retcode = 1
		return
	}

	slog.InfoContext(ctx, "Setting up opentelemetry")
	otelShutdown, err := telemetry.SetupOTelSDK(ctx, settings.App, settings.OpenTelemetry)
	if err != nil {
		slog.Error("failed to setup telemetry", slog.Any("err", err))
		retcode = 1
		return
	}

	defer func() {
		err = errors.Join(err, otelShutdown(context.Background()))
		if err != nil {
			slog.ErrorContext(
				ctx,
				"failed to shutdown opentelemetry providers",
				slog.Any("err", err),
			)
			retcode = 1
		}
	}()

	slog.InfoContext(ctx, "Connecting to NATS server")
	nc, err := settings.Nats.GetNatsClient()
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to NATS server", slog.Any("err", err))
		retcode = 1
		return
	}
	defer nc.Drain()

	js, err := jetstream.New(nc)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create jetstream", slog.Any("err", err))
		retcode = 1
		return
	}

	consumer, err := newOrderConsumer(ctx, js, settings.Nats.Stream, settings.Nats.Subject)
	if err != nil {
		retcode = 1
		return
	}

	desk := pizzaclient.New(
		settings.Gateway.URL,
		pizzaclient.WithAdminToken(settings.Gateway.AdminHeader, settings.Gateway.AdminToken),
	)

	maestroHandler, err := newMaestroHandlerV1(settings.Maestro, desk, consumer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create maestro", slog.Any("err", err))
		retcode = 1
		return
	}

	slog.InfoContext(ctx, "Starting to listen to new orders", slog.String("gateway", settings.Gateway.URL))
	maestroHandler.startTurn(ctx)
}
