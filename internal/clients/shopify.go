package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/refundbot/internal/domain"
	"github.com/vadiminshakov/refundbot/pkg/retrier"
)

const apiVersion = "2025-07"

// returnInProgressQuery filters paid orders with an open return; only those
// can become refund candidates.
const returnInProgressQuery = `return_status:IN_PROGRESS AND (financial_status:PAID OR financial_status:PARTIALLY_PAID OR financial_status:PARTIALLY_REFUNDED)`

const ordersQuery = `
query refundableOrders($first: Int!, $after: String, $query: String!) {
  orders(first: $first, after: $after, query: $query) {
    pageInfo {
      hasNextPage
      endCursor
    }
    nodes {
      id
      name
      tags
      displayFinancialStatus
      totalPriceSet { shopMoney { amount currencyCode } }
      totalRefundedSet { shopMoney { amount } }
      transactions(first: 1, capturedOnly: true) {
        id
        amountSet { shopMoney { amount currencyCode } }
      }
      returns(first: 5) {
        nodes {
          status
          reverseFulfillmentOrders(first: 5) {
            nodes {
              reverseDeliveries(first: 5) {
                nodes {
                  deliverable {
                    ... on ReverseDeliveryShippingDeliverable {
                      tracking { number carrierName }
                    }
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

const refundCreateMutation = `
mutation refundCreate($input: RefundInput!) {
  refundCreate(input: $input) {
    refund {
      id
      createdAt
      totalRefundedSet { shopMoney { amount currencyCode } }
    }
    userErrors {
      field
      message
    }
  }
}`

// ShopifyClient talks to the store Admin GraphQL API. It serves both the
// order source and the refund mutation capabilities.
type ShopifyClient struct {
	endpoint    string
	accessToken string
	pageSize    int
	httpClient  *http.Client
}

// NewShopifyClient creates a store API client for the given shop.
func NewShopifyClient(storeURL, accessToken string, pageSize int, timeout time.Duration) *ShopifyClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &ShopifyClient{
		endpoint:    fmt.Sprintf("https://%s.myshopify.com/admin/api/%s/graphql.json", storeURL, apiVersion),
		accessToken: accessToken,
		pageSize:    pageSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type moneyBag struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type moneySet struct {
	ShopMoney moneyBag `json:"shopMoney"`
}

type orderNode struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	Tags                   []string `json:"tags"`
	DisplayFinancialStatus string   `json:"displayFinancialStatus"`
	TotalPriceSet          moneySet `json:"totalPriceSet"`
	TotalRefundedSet       moneySet `json:"totalRefundedSet"`
	Transactions           []struct {
		ID        string   `json:"id"`
		AmountSet moneySet `json:"amountSet"`
	} `json:"transactions"`
	Returns struct {
		Nodes []struct {
			Status                   string `json:"status"`
			ReverseFulfillmentOrders struct {
				Nodes []struct {
					ReverseDeliveries struct {
						Nodes []struct {
							Deliverable struct {
								Tracking struct {
									Number      string `json:"number"`
									CarrierName string `json:"carrierName"`
								} `json:"tracking"`
							} `json:"deliverable"`
						} `json:"nodes"`
					} `json:"reverseDeliveries"`
				} `json:"nodes"`
			} `json:"reverseFulfillmentOrders"`
		} `json:"nodes"`
	} `json:"returns"`
}

type ordersData struct {
	Orders struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Nodes []orderNode `json:"nodes"`
	} `json:"orders"`
}

type refundCreateData struct {
	RefundCreate struct {
		Refund *struct {
			ID               string   `json:"id"`
			CreatedAt        string   `json:"createdAt"`
			TotalRefundedSet moneySet `json:"totalRefundedSet"`
		} `json:"refund"`
		UserErrors []struct {
			Field   []string `json:"field"`
			Message string   `json:"message"`
		} `json:"userErrors"`
	} `json:"refundCreate"`
}

// FetchReturnInProgressOrders returns one page of candidate orders and the
// cursor for the next page, or an empty cursor on the last page.
func (c *ShopifyClient) FetchReturnInProgressOrders(ctx context.Context, cursor string) ([]domain.CandidateOrder, string, error) {
	variables := map[string]any{
		"first": c.pageSize,
		"query": returnInProgressQuery,
	}
	if cursor != "" {
		variables["after"] = cursor
	}

	var data ordersData
	if err := c.execute(ctx, ordersQuery, variables, &data); err != nil {
		return nil, "", errors.Wrap(err, "fetch return-in-progress orders")
	}

	orders := make([]domain.CandidateOrder, 0, len(data.Orders.Nodes))
	for _, node := range data.Orders.Nodes {
		order, err := candidateFromNode(node)
		if err != nil {
			return nil, "", errors.Wrapf(err, "parse order %s", node.Name)
		}
		if order.TrackingNumber == "" {
			// a return without a tracked shipment cannot be verified
			continue
		}
		orders = append(orders, order)
	}

	nextCursor := ""
	if data.Orders.PageInfo.HasNextPage {
		nextCursor = data.Orders.PageInfo.EndCursor
	}

	return orders, nextCursor, nil
}

// CreateRefund issues the refund mutation and returns the store-side refund id.
func (c *ShopifyClient) CreateRefund(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (string, error) {
	variables := map[string]any{
		"input": map[string]any{
			"orderId": orderID,
			"notify":  true,
			"note":    "automated return refund",
			"transactions": []map[string]any{
				{
					"orderId": orderID,
					"kind":    "REFUND",
					"gateway": "shopify_payments",
					"amount":  amount.StringFixed(2),
				},
			},
		},
	}

	var data refundCreateData
	if err := c.execute(ctx, refundCreateMutation, variables, &data); err != nil {
		return "", errors.Wrapf(err, "create refund for order %s", orderID)
	}

	if len(data.RefundCreate.UserErrors) > 0 {
		messages := make([]string, 0, len(data.RefundCreate.UserErrors))
		for _, userErr := range data.RefundCreate.UserErrors {
			messages = append(messages, userErr.Message)
		}
		// validation errors never succeed on retry
		return "", fmt.Errorf("refund rejected for order %s: %s", orderID, strings.Join(messages, "; "))
	}

	if data.RefundCreate.Refund == nil {
		return "", fmt.Errorf("no refund returned for order %s", orderID)
	}

	return data.RefundCreate.Refund.ID, nil
}

func candidateFromNode(node orderNode) (domain.CandidateOrder, error) {
	amount, err := decimal.NewFromString(node.TotalPriceSet.ShopMoney.Amount)
	if err != nil {
		return domain.CandidateOrder{}, errors.Wrap(err, "parse order amount")
	}

	refunded := decimal.Zero
	if node.TotalRefundedSet.ShopMoney.Amount != "" {
		refunded, err = decimal.NewFromString(node.TotalRefundedSet.ShopMoney.Amount)
		if err != nil {
			return domain.CandidateOrder{}, errors.Wrap(err, "parse refunded amount")
		}
	}

	order := domain.CandidateOrder{
		ID:              node.ID,
		Name:            node.Name,
		Amount:          amount,
		Currency:        node.TotalPriceSet.ShopMoney.CurrencyCode,
		Refunded:        refunded,
		FinancialStatus: domain.FinancialStatus(node.DisplayFinancialStatus),
		Tags:            node.Tags,
	}

	if len(node.Transactions) > 0 {
		order.TransactionID = node.Transactions[0].ID
		order.TransactionCurrency = node.Transactions[0].AmountSet.ShopMoney.CurrencyCode
	}

	// first open return with a tracked reverse delivery wins
	for _, ret := range node.Returns.Nodes {
		if ret.Status != "OPEN" {
			continue
		}
		for _, rfo := range ret.ReverseFulfillmentOrders.Nodes {
			for _, rd := range rfo.ReverseDeliveries.Nodes {
				if rd.Deliverable.Tracking.Number != "" {
					order.TrackingNumber = rd.Deliverable.Tracking.Number
					return order, nil
				}
			}
		}
	}

	return order, nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *ShopifyClient) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return errors.Wrap(err, "marshal graphql request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create graphql request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retrier.Transient(errors.Wrap(err, "store API request failed"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return retrier.Transient(errors.Wrap(err, "read store API response"))
	}

	if err := classifyStatus(resp.StatusCode, "store API", raw); err != nil {
		return err
	}

	var parsed graphqlResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return errors.Wrap(err, "decode store API response")
	}

	if len(parsed.Errors) > 0 {
		messages := make([]string, 0, len(parsed.Errors))
		throttled := false
		for _, gqlErr := range parsed.Errors {
			messages = append(messages, gqlErr.Message)
			if strings.Contains(strings.ToLower(gqlErr.Message), "throttled") {
				throttled = true
			}
		}
		err := fmt.Errorf("store API errors: %s", strings.Join(messages, "; "))
		if throttled {
			return retrier.Transient(err)
		}
		return err
	}

	if parsed.Data == nil {
		return errors.New("store API returned no data")
	}

	return errors.Wrap(json.Unmarshal(parsed.Data, out), "decode store API data")
}
