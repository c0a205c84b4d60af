package hubclient

import (
	"net/http"
	"strings"
	"time"

	"github.com/sigweihq/storepay/pkg/utils"
)

// DefaultHubURL is the default URL of the storefront order service
const DefaultHubURL = "https://shop.sigwei.com"

// Config configures a HubClient
type Config struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client // overrides Timeout when set
}

// HubClient is the client side of the order verification boundary
type HubClient struct {
	URL        string
	HTTPClient *http.Client

	// Auth provides wallet-based authentication functionality
	// Endpoints: /api/v1/auth/message, /api/v1/auth/login, /api/v1/auth/refresh, etc.
	Auth *AuthClient

	// Orders hands confirmed purchases off for verification and reads order state
	// Endpoints: /api/v1/orders/verify, /api/v1/orders/{id}, /api/v1/orders
	Orders *OrdersClient
}

// NewHubClient creates a new hub client with all sub-clients initialized
// The Auth and Orders clients share the same HTTP client and base URL
func NewHubClient(config *Config) *HubClient {
	if config == nil {
		config = &Config{URL: DefaultHubURL}
	}

	url := strings.TrimRight(config.URL, "/")
	// Validate URL security - fall back to default if invalid
	if err := utils.ValidateServiceURL(url); err != nil {
		url = DefaultHubURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = utils.CreateHTTPClientWithTimeouts(config.Timeout)
	}

	authClient := newAuthClient(url, httpClient)
	ordersClient := newOrdersClient(url, httpClient, authClient)

	return &HubClient{
		URL:        url,
		HTTPClient: httpClient,
		Auth:       authClient,
		Orders:     ordersClient,
	}
}
