package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/refundbot/pkg/retrier"
)

// newTestShopifyClient points the client at a local stand-in for the store API.
func newTestShopifyClient(srv *httptest.Server) *ShopifyClient {
	client := NewShopifyClient("test-shop", "token", 50, time.Second)
	client.endpoint = srv.URL
	return client
}

func TestShopifyClient_CreateRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "token", r.Header.Get("X-Shopify-Access-Token"))

		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		input := req.Variables["input"].(map[string]any)
		require.Equal(t, "gid://shopify/Order/1", input["orderId"])

		w.Write([]byte(`{"data": {"refundCreate": {"refund": {"id": "gid://shopify/Refund/7"}, "userErrors": []}}}`))
	}))
	defer srv.Close()

	refundID, err := newTestShopifyClient(srv).CreateRefund(
		context.Background(), "gid://shopify/Order/1", decimal.RequireFromString("49.99"), "USD")
	require.NoError(t, err)
	require.Equal(t, "gid://shopify/Refund/7", refundID)
}

func TestShopifyClient_UserErrorsFailImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"refundCreate": {"refund": null, "userErrors": [{"field": ["input"], "message": "Order cannot be refunded"}]}}}`))
	}))
	defer srv.Close()

	_, err := newTestShopifyClient(srv).CreateRefund(
		context.Background(), "gid://shopify/Order/1", decimal.RequireFromString("49.99"), "USD")
	require.Error(t, err)
	require.False(t, retrier.IsTransient(err), "validation errors never succeed on retry")
	require.Contains(t, err.Error(), "Order cannot be refunded")
}

func TestShopifyClient_ThrottledIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors": [{"message": "Throttled"}]}`))
	}))
	defer srv.Close()

	_, err := newTestShopifyClient(srv).CreateRefund(
		context.Background(), "gid://shopify/Order/1", decimal.RequireFromString("49.99"), "USD")
	require.Error(t, err)
	require.True(t, retrier.IsTransient(err), "throttling must be retried")
}

func TestShopifyClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestShopifyClient(srv).CreateRefund(
		context.Background(), "gid://shopify/Order/1", decimal.RequireFromString("49.99"), "USD")
	require.Error(t, err)
	require.True(t, retrier.IsTransient(err))
}

func TestShopifyClient_FetchReturnInProgressOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"orders": {
			"pageInfo": {"hasNextPage": true, "endCursor": "cur2"},
			"nodes": [
				{
					"id": "gid://shopify/Order/1", "name": "#1001", "tags": ["vip"],
					"displayFinancialStatus": "PAID",
					"totalPriceSet": {"shopMoney": {"amount": "49.99", "currencyCode": "USD"}},
					"totalRefundedSet": {"shopMoney": {"amount": "0.00"}},
					"transactions": [{"id": "txn-1", "amountSet": {"shopMoney": {"amount": "49.99", "currencyCode": "USD"}}}],
					"returns": {"nodes": [{
						"status": "OPEN",
						"reverseFulfillmentOrders": {"nodes": [{
							"reverseDeliveries": {"nodes": [{
								"deliverable": {"tracking": {"number": "TRK1", "carrierName": "UPS"}}
							}]}
						}]}
					}]}
				},
				{
					"id": "gid://shopify/Order/2", "name": "#1002", "tags": [],
					"displayFinancialStatus": "PAID",
					"totalPriceSet": {"shopMoney": {"amount": "15.00", "currencyCode": "USD"}},
					"totalRefundedSet": {"shopMoney": {"amount": ""}},
					"transactions": [],
					"returns": {"nodes": []}
				}
			]
		}}}`))
	}))
	defer srv.Close()

	orders, cursor, err := newTestShopifyClient(srv).FetchReturnInProgressOrders(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "cur2", cursor)

	// the order without a tracked return shipment is dropped
	require.Len(t, orders, 1)
	order := orders[0]
	require.Equal(t, "gid://shopify/Order/1", order.ID)
	require.Equal(t, "#1001", order.Name)
	require.True(t, order.Amount.Equal(decimal.RequireFromString("49.99")))
	require.Equal(t, "USD", order.Currency)
	require.Equal(t, "txn-1", order.TransactionID)
	require.Equal(t, "TRK1", order.TrackingNumber)
	require.True(t, order.IsPaid())
}
