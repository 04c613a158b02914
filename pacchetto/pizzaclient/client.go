// Package pizzaclient talks to the paddock-gateway HTTP API and unwraps its
// {success, data, error} envelope.
package pizzaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const DefaultAdminHeader = "X-Admin-Token"

// APIError is a response the gateway answered with success=false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API Error (Status: %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ConnectionError wraps transport failures, when the gateway could not be reached at all.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("could not connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type OrderItem struct {
	PizzaID  string `json:"pizza_id"`
	Quantity int    `json:"quantity"`
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	adminToken  string
	adminHeader string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAdminToken sends token in header on every request.
func WithAdminToken(header, token string) Option {
	return func(c *Client) {
		c.adminHeader = header
		c.adminToken = token
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  http.DefaultClient,
		adminHeader: DefaultAdminHeader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends body as JSON and returns the data field of a successful envelope.
func (c *Client) Do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set(c.adminHeader, c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.DebugContext(ctx, "gateway answered with a non JSON body", slog.Int("status", resp.StatusCode), slog.Any("err", err))
		return nil, fmt.Errorf("server returned non-JSON response. Status: %d, Content: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return env.Data, nil
}

func (c *Client) Menu(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/menu", nil)
}

func (c *Client) CreateOrder(ctx context.Context, items []OrderItem) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, "/order", map[string]any{"items": items})
}

func (c *Client) GetOrder(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/order/"+url.PathEscape(id), nil)
}

func (c *Client) CancelOrder(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodDelete, "/order/"+url.PathEscape(id), nil)
}

func (c *Client) AddPizza(ctx context.Context, name, description string, price float64) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, "/admin/menu", map[string]any{
		"name":        name,
		"description": description,
		"price":       price,
	})
}

func (c *Client) DeletePizza(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodDelete, "/admin/menu/"+url.PathEscape(id), nil)
}

func (c *Client) AdminCancelOrder(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodDelete, "/admin/order/"+url.PathEscape(id), nil)
}

func (c *Client) ListOrders(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/admin/orders", nil)
}

func (c *Client) UpdateOrderStatus(ctx context.Context, id, status string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPut, "/admin/order/"+url.PathEscape(id)+"/status", map[string]string{"status": status})
}
