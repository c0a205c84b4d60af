package hubclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sigweihq/storepay/pkg/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// OrdersClient hands confirmed purchases to the order service and reads orders back
type OrdersClient struct {
	baseURL    string
	httpClient *http.Client
	authClient *AuthClient // Reference to auth client for token management
}

// newOrdersClient creates a new orders client (internal constructor)
func newOrdersClient(baseURL string, httpClient *http.Client, authClient *AuthClient) *OrdersClient {
	return &OrdersClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		authClient: authClient,
	}
}

func (c *OrdersClient) headers() map[string]string {
	if token := c.authClient.Session().AccessToken; token != "" {
		return bearer(token)
	}
	return nil
}

// Verify submits a confirmed purchase for server-side verification. The
// service re-reads the chain itself; the response is authoritative.
// POST /api/v1/orders/verify
func (c *OrdersClient) Verify(ctx context.Context, req types.VerifyRequest) (*types.VerifyResponse, error) {
	if req.TxHash == "" {
		return nil, fmt.Errorf("verify: transaction hash is required")
	}
	if req.ChainID <= 0 {
		return nil, fmt.Errorf("verify: chain id must be positive, got %d", req.ChainID)
	}

	url := fmt.Sprintf("%s/api/v1/orders/verify", c.baseURL)
	var result types.VerifyResponse

	if err := httpRequest(ctx, c.httpClient, http.MethodPost, url, req, c.headers(), &result); err != nil {
		return nil, fmt.Errorf("failed to verify order: %w", err)
	}

	return &result, nil
}

// Get retrieves one order, with the buyer's session when signed in
// GET /api/v1/orders/{id}
func (c *OrdersClient) Get(ctx context.Context, orderID string) (*types.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order id is required")
	}

	endpoint := fmt.Sprintf("%s/api/v1/orders/%s", c.baseURL, url.PathEscape(orderID))
	var result types.Order
	get := func(headers map[string]string) error {
		return httpRequest(ctx, c.httpClient, http.MethodGet, endpoint, nil, headers, &result)
	}

	var err error
	if c.authClient.SignedIn() {
		err = c.authClient.authorized(ctx, get)
	} else {
		err = get(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &result, nil
}

// List returns one page of the signed-in buyer's orders. An expired access
// token is refreshed once.
// GET /api/v1/orders?chainId=8453&status=paid&limit=50&offset=0
func (c *OrdersClient) List(ctx context.Context, params *types.OrderListParams) (*types.OrderListResponse, error) {
	p := types.OrderListParams{Limit: defaultPageSize}
	if params != nil {
		p = *params
	}
	if p.Limit == 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit < 1 || p.Limit > maxPageSize {
		return nil, fmt.Errorf("limit must be between 1 and %d, got %d", maxPageSize, p.Limit)
	}
	if p.Offset < 0 {
		return nil, fmt.Errorf("offset must be non-negative, got %d", p.Offset)
	}

	q := url.Values{}
	if p.ChainID != 0 {
		q.Set("chainId", strconv.FormatInt(p.ChainID, 10))
	}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(p.Offset))
	endpoint := c.baseURL + "/api/v1/orders?" + q.Encode()

	var result types.OrderListResponse
	err := c.authClient.authorized(ctx, func(headers map[string]string) error {
		return httpRequest(ctx, c.httpClient, http.MethodGet, endpoint, nil, headers, &result)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return &result, nil
}

// All pages through the buyer's orders matching params, up to limit orders
func (c *OrdersClient) All(ctx context.Context, params types.OrderListParams, limit int) ([]*types.Order, error) {
	params.Offset = 0
	if params.Limit == 0 {
		params.Limit = maxPageSize
	}

	var orders []*types.Order
	for {
		page, err := c.List(ctx, &params)
		if err != nil {
			return orders, err
		}
		orders = append(orders, page.Orders...)
		if len(page.Orders) == 0 || len(orders) >= page.Total || (limit > 0 && len(orders) >= limit) {
			break
		}
		params.Offset += len(page.Orders)
	}
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}
