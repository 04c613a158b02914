package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "net/http/pprof"

	healthgo "github.com/hellofresh/health-go/v5"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	echoSwagger "github.com/swaggo/echo-swagger"
	"github.com/taldoflemis/pizzabox/pacchetto/telemetry"
	_ "github.com/taldoflemis/pizzabox/paddock-gateway/docs"
)

const shutdownTimeout = 10 * time.Second

// @title						Paddock Gateway
// @version						1.0
// @description				In-memory pizza ordering API.
// @host						localhost:8080
// @BasePath  					/
// @securityDefinitions.apikey	AdminToken
// @in							header
// @name						X-Admin-Token
// @description					Shared admin secret.
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

	slog.InfoContext(ctx, "Launching paddock-gateway")

	slog.InfoContext(ctx, "Loading config")
	settings, err := LoadConfig()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", slog.Any("err", err))
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

	var (
		orderPubSubber OrderPubSubber = NewGoChannelOrderPubSubber()
		checks         []healthgo.Config
	)
	if settings.Nats.Enabled {
		slog.InfoContext(ctx, "Connecting to NATS server")
		var nc *nats.Conn
		nc, err = settings.Nats.GetNatsClient()
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to NATS server", slog.Any("err", err))
			retcode = 1
			return
		}
		defer nc.Drain()

		orderPubSubber, err = NewNATSOrderPubSubber(ctx, nc, settings.Nats.Subject, settings.Nats.Stream)
		if err != nil {
			slog.ErrorContext(ctx, "failed to create order pub/subber", slog.Any("err", err))
			retcode = 1
			return
		}

		checks = append(checks, healthgo.Config{
			Name: "nats",
			Check: func(ctx context.Context) error {
				if !nc.IsConnected() {
					return errors.New("NATS connection is not active")
				}
				return nil
			},
		})
	}

	slog.InfoContext(ctx, "Seeding menu")
	pizzeria, err := NewPizzeria(NewMemoryStore(), orderPubSubber)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create pizzeria", slog.Any("err", err))
		retcode = 1
		return
	}
	err = pizzeria.SeedMenu(ctx, settings.Menu.Pizzas())
	if err != nil {
		slog.ErrorContext(ctx, "failed to seed menu", slog.Any("err", err))
		retcode = 1
		return
	}

	slog.InfoContext(ctx, "Setting up health checker")
	health, err := healthgo.New(
		healthgo.WithComponent(healthgo.Component{
			Name:    settings.App.Name,
			Version: settings.App.Version,
		}),
		healthgo.WithChecks(checks...),
	)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create health checker", slog.Any("err", err))
		retcode = 1
		return
	}

	errChan := make(chan error)
	server := echo.New()
	server.HideBanner = true

	NewMainHandler(server, settings, pizzeria, orderPubSubber, health)
	server.GET("/swagger/*", echoSwagger.WrapHandler)
	pprof.Register(server)

	go func() {
		slog.InfoContext(ctx, "listening for requests", slog.String("ip", settings.HTTP.IP), slog.String("port", settings.HTTP.Port))
		errChan <- server.Start(fmt.Sprintf("%s:%s", settings.HTTP.IP, settings.HTTP.Port))
	}()

	select {
	case err = <-errChan:
		slog.ErrorContext(ctx, "error when running server", slog.Any("err", err))
		retcode = 1
		return
	case <-ctx.Done():
		// Wait for first Signal arrives
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to shutdown gracefully the server", slog.Any("err", err))
	}
}
