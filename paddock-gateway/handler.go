package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	healthgo "github.com/hellofresh/health-go/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	tracer = otel.Tracer("paddock-gateway")
	meter  = otel.Meter("paddock-gateway")
)

const unauthorizedMessage = "Unauthorized: Admin token missing or invalid"

// admin routes are already behind the token, so any origin may upgrade
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type MainHandler struct {
	pizzeria       *Pizzeria
	orderPubSubber OrderPubSubber
	health         *healthgo.Health
}

func NewMainHandler(e *echo.Echo, settings *Settings, pizzeria *Pizzeria, orderPubSubber OrderPubSubber, health *healthgo.Health) *MainHandler {
	logger := slog.Default()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: settings.HTTP.CORS.Origins,
		AllowMethods: settings.HTTP.CORS.Methods,
		AllowHeaders: settings.HTTP.CORS.Headers,
	}))
	e.Use(otelecho.Middleware("paddock-gateway",
		otelecho.WithMetricAttributeFn(func(r *http.Request) []attribute.KeyValue {
			return []attribute.KeyValue{
				attribute.String("client.ip", r.RemoteAddr),
				attribute.String("user.agent", r.UserAgent()),
			}
		}),
		otelecho.WithEchoMetricAttributeFn(func(c echo.Context) []attribute.KeyValue {
			return []attribute.KeyValue{
				attribute.String("handler.path", c.Path()),
				attribute.String("handler.method", c.Request().Method),
			}
		}),
	))

	handler := &MainHandler{
		pizzeria:       pizzeria,
		orderPubSubber: orderPubSubber,
		health:         health,
	}
	e.HTTPErrorHandler = handler.HTTPErrorHandler

	e.GET("/healthz", handler.HealthCheck)

	e.GET("/menu", handler.GetMenu)
	e.POST("/order", handler.CreateOrder)
	e.GET("/order/:id", handler.GetOrder)
	e.DELETE("/order/:id", handler.CancelOrder)

	admin := e.Group("/admin", adminAuth(settings.Admin))
	admin.POST("/menu", handler.AddPizza)
	admin.DELETE("/menu/:id", handler.DeletePizza)
	admin.DELETE("/order/:id", handler.AdminCancelOrder)
	admin.GET("/orders", handler.ListOrders)
	admin.GET("/orders/live", handler.GetLiveOrdersSSE)
	admin.GET("/orders/ws", handler.GetLiveOrdersWS)
	admin.PUT("/order/:id/status", handler.UpdateOrderStatus)

	return handler
}

// adminAuth compares the configured header with the admin token before any
// admin handler runs.
func adminAuth(settings AdminSettings) echo.MiddlewareFunc {
	token := []byte(settings.Token)
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + settings.Header,
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), token) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			slog.WarnContext(c.Request().Context(), "rejected admin request",
				slog.String("path", c.Request().URL.Path),
				slog.Any("err", err))
			return toHTTPError(newOpError(ErrUnauthorized, unauthorizedMessage))
		},
	})
}

func success(c echo.Context, status int, data any) error {
	return c.JSON(status, Response{Success: true, Data: data})
}

// bindBody decodes only the JSON body so path and query values never leak into requests.
func bindBody(c echo.Context, dst any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, dst); err != nil {
		slog.WarnContext(c.Request().Context(), "failed to bind request", slog.Any("err", err))
		return toHTTPError(newOpError(ErrInvalidInput, "Invalid JSON body."))
	}
	return nil
}

// statusFor maps a domain error kind to its HTTP status.
func statusFor(kind error) int {
	switch kind {
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// toHTTPError converts err into the *echo.HTTPError handlers return, so the
// access log and the error handler agree on the status. The domain error
// stays reachable through Unwrap.
func toHTTPError(err error) *echo.HTTPError {
	var op *opError
	if errors.As(err, &op) {
		return echo.NewHTTPError(statusFor(op.kind), op.msg).WithInternal(op)
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error.").WithInternal(err)
}

// HTTPErrorHandler renders every failure, including the router's own, in the
// response envelope.
func (h *MainHandler) HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	ctx := c.Request().Context()
	he := toHTTPError(err)
	status := he.Code
	msg := "Internal server error."
	if status < http.StatusInternalServerError {
		msg = fmt.Sprint(he.Message)
	} else {
		slog.ErrorContext(ctx, "request failed", slog.String("path", c.Request().URL.Path), slog.Any("err", err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, Response{Success: false, Error: msg})
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to write error response", slog.Any("err", err))
	}
}

// GetMenu godoc
//
// @Summary List the pizzas on the menu
// @Tags menu
// @Produce json
// @Success 200 {object} Response{data=[]Pizza}
// @Router /menu [get]
func (h *MainHandler) GetMenu(c echo.Context) error {
	return success(c, http.StatusOK, h.pizzeria.ListMenu(c.Request().Context()))
}

// CreateOrder godoc
//
// @Summary Place a new order
// @Tags order
// @Accept json
// @Produce json
// @Param order body CreateOrderRequest true "Order items"
// @Success 201 {object} Response{data=Order}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /order [post]
func (h *MainHandler) CreateOrder(c echo.Context) error {
	var req CreateOrderRequest
	if err := bindBody(c, &req); err != nil {
		return toHTTPError(err)
	}

	order, err := h.pizzeria.CreateOrder(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return success(c, http.StatusCreated, order)
}

// GetOrder godoc
//
// @Summary Get an order
// @Tags order
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} Response{data=Order}
// @Failure 404 {object} Response
// @Router /order/{id} [get]
func (h *MainHandler) GetOrder(c echo.Context) error {
	order, err := h.pizzeria.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return success(c, http.StatusOK, order)
}

// CancelOrder godoc
//
// @Summary Cancel an order that is still pending or preparing
// @Tags order
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} Response{data=MessageResponse}
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /order/{id} [delete]
func (h *MainHandler) CancelOrder(c echo.Context) error {
	msg, err := h.pizzeria.CancelOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return success(c, http.StatusOK, msg)
}

// AddPizza godoc
//
// @Summary Add a pizza to the menu
// @Tags admin
// @Accept json
// @Produce json
// @Security AdminToken
// @Param pizza body AddPizzaRequest true "New pizza"
// @Success 201 {object} Response{data=Pizza}
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Router /admin/menu [post]
func (h *MainHandler) AddPizza(c echo.Context) error {
	var req AddPizzaRequest
	if err := bindBody(c, &req); err != nil {
		return toHTTPError(err)
	}

	pizza, err := h.pizzeria.AddPizza(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return success(c, http.StatusCreated, pizza)
}

// DeletePizza godoc
//
// @Summary Remove a pizza from the menu
// @Tags admin
// @Produce json
// @Security AdminToken
// @Param id path string true "Pizza ID"
// @Success 200 {object} Response{data=MessageResponse}
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Router /admin/menu/{id} [delete]
func (h *MainHandler) DeletePizza(c echo.Context) error {
	msg, err := h.pizzeria.DeletePizza(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return success(c, http.StatusOK, msg)
}

// AdminCancelOrder godoc
//
// @Summary Cancel any order regardless of its status
// @Tags admin
// @Produce json
// @Security AdminToken
// @Param id path string true "Order ID"
// @Success 200 {object} Response{data=MessageResponse}
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Router /admin/order/{id} [delete]
func (h *MainHandler) AdminCancelOrder(c echo.Context) error {
	msg, err := h.pizzeria.AdminCancelOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return success(c, http.StatusOK, msg)
}

// ListOrders godoc
//
// @Summary List every order
// @Tags admin
// @Produce json
// @Security AdminToken
// @Success 200 {object} Response{data=[]Order}
// @Failure 401 {object} Response
// @Router /admin/orders [get]
func (h *MainHandler) ListOrders(c echo.Context) error {
	return success(c, http.StatusOK, h.pizzeria.ListOrders(c.Request().Context()))
}

// UpdateOrderStatus godoc
//
// @Summary Overwrite the status of an order
// @Tags admin
// @Accept json
// @Produce json
// @Security AdminToken
// @Param id path string true "Order ID"
// @Param status body UpdateOrderStatusRequest true "New status"
// @Success 200 {object} Response{data=Order}
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Router /admin/order/{id}/status [put]
func (h *MainHandler) UpdateOrderStatus(c echo.Context) error {
	var req UpdateOrderStatusRequest
	if err := bindBody(c, &req); err != nil {
		return toHTTPError(err)
	}

	order, err := h.pizzeria.UpdateOrderStatus(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return toHTTPError(err)
	}
	return success(c, http.StatusOK, order)
}

// GetLiveOrdersSSE godoc
//
// @Summary Follow order events via Server-Sent Events (SSE)
// @Tags admin
// @Produce text/event-stream
// @Security AdminToken
// @Success 200 {object} OrderEvent
// @Failure 401 {object} Response
// @Router /admin/orders/live [get]
func (h *MainHandler) GetLiveOrdersSSE(c echo.Context) error {
	ctx := c.Request().Context()
	// echo.Response flushes through any middleware wrapping the writer
	var flusher http.Flusher = c.Response()

	ch, err := h.orderPubSubber.SubLiveOrders(ctx, flusher)
	if err != nil {
		slog.ErrorContext(ctx, "failed to subscribe to live orders", slog.Any("err", err))
		return toHTTPError(err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	notify := ctx.Done()
	for {
		select {
		case <-notify:
			slog.InfoContext(ctx, "client closed connection")
			h.unsubLive(ctx, flusher)
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				slog.ErrorContext(ctx, "marshal order event for SSE", slog.Any("err", err))
				continue
			}
			_, err = fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event.Kind, data)
			if err != nil {
				slog.ErrorContext(ctx, "write SSE", slog.Any("err", err))
				h.unsubLive(ctx, flusher)
				// the stream is already committed, nothing left to render
				return nil
			}
			flusher.Flush()
		}
	}
}

// GetLiveOrdersWS godoc
//
// @Summary Follow order events over a websocket
// @Description Each order event is sent as one JSON text message.
// @Tags admin
// @Security AdminToken
// @Success 101 {object} OrderEvent
// @Failure 401 {object} Response
// @Router /admin/orders/ws [get]
func (h *MainHandler) GetLiveOrdersWS(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already answered the client
		slog.WarnContext(c.Request().Context(), "failed to upgrade to websocket", slog.Any("err", err))
		return nil
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	ch, err := h.orderPubSubber.SubLiveOrders(ctx, ws)
	if err != nil {
		slog.ErrorContext(ctx, "failed to subscribe to live orders", slog.Any("err", err))
		return nil
	}
	defer h.unsubLive(context.WithoutCancel(ctx), ws)

	// drain control frames and notice when the client goes away
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "websocket client closed connection")
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			err := ws.WriteJSON(event)
			if err != nil {
				slog.ErrorContext(ctx, "write websocket", slog.Any("err", err))
				return nil
			}
		}
	}
}

func (h *MainHandler) unsubLive(ctx context.Context, subscriber LiveSubscriber) {
	err := h.orderPubSubber.UnsubLiveOrders(ctx, subscriber)
	if err != nil {
		slog.ErrorContext(ctx, "failed to unsubscribe from live orders", slog.Any("err", err))
	}
}

// HealthCheck godoc
//
// @Summary Check the health of the service
// @Tags health
// @Produce json
// @Success 200 {object} healthgo.Check
// @Failure 503 {object} healthgo.Check
// @Router /healthz [get]
func (h *MainHandler) HealthCheck(c echo.Context) error {
	check := h.health.Measure(c.Request().Context())

	statusCode := http.StatusOK
	if check.Status != healthgo.StatusOK {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, check)
}
