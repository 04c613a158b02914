package pizzaclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	token  string
	body   string
}

func newGateway(t *testing.T, status int, reply string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.method = r.Method
		rec.path = r.URL.EscapedPath()
		rec.token = r.Header.Get(DefaultAdminHeader)
		rec.body = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestClientUnwrapsData(t *testing.T) {
	srv, rec := newGateway(t, http.StatusCreated, `{"success":true,"data":{"order_id":"abc123","status":"pending"}}`)
	client := New(srv.URL + "/")

	data, err := client.CreateOrder(context.Background(), []OrderItem{{PizzaID: "pizza1", Quantity: 2}})
	require.NoError(t, err)

	var order map[string]string
	require.NoError(t, json.Unmarshal(data, &order))
	assert.Equal(t, "abc123", order["order_id"])

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/order", rec.path)
	assert.JSONEq(t, `{"items":[{"pizza_id":"pizza1","quantity":2}]}`, rec.body)
	assert.Empty(t, rec.token)
}

func TestClientSendsAdminToken(t *testing.T) {
	srv, rec := newGateway(t, http.StatusOK, `{"success":true,"data":{"order_id":"abc123","status":"delivered"}}`)
	client := New(srv.URL, WithAdminToken(DefaultAdminHeader, "s3cret"))

	_, err := client.UpdateOrderStatus(context.Background(), "abc123", "delivered")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, rec.method)
	assert.Equal(t, "/admin/order/abc123/status", rec.path)
	assert.Equal(t, "s3cret", rec.token)
	assert.JSONEq(t, `{"status":"delivered"}`, rec.body)
}

func TestClientAPIError(t *testing.T) {
	srv, _ := newGateway(t, http.StatusNotFound, `{"success":false,"error":"Order with ID 'nope00' not found."}`)
	client := New(srv.URL)

	_, err := client.GetOrder(context.Background(), "nope00")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "API Error (Status: 404): Order with ID 'nope00' not found.", err.Error())
	assert.True(t, IsNotFound(err))
}

func TestClientNonJSONResponse(t *testing.T) {
	srv, _ := newGateway(t, http.StatusBadGateway, "upstream down")
	client := New(srv.URL)

	_, err := client.Menu(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-JSON response. Status: 502")
	assert.False(t, IsNotFound(err))
}

func TestClientConnectionError(t *testing.T) {
	srv, _ := newGateway(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()

	_, err := New(url).Menu(context.Background())
	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestClientEscapesIDs(t *testing.T) {
	srv, rec := newGateway(t, http.StatusOK, `{"success":true,"data":{"message":"ok"}}`)
	client := New(srv.URL, WithAdminToken(DefaultAdminHeader, "s3cret"))

	_, err := client.DeletePizza(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "/admin/menu/a%2Fb", rec.path)
}
