package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/sigweihq/storepay/pkg/constants"
)

// DefaultChainListURL is the public chainlist.org RPC catalogue
const DefaultChainListURL = "https://chainlist.org/rpcs.json"

// ChainListResponse represents a chain entry from chainlist.org/rpcs.json
type ChainListResponse struct {
	ChainID int `json:"chainId"`
	RPC     []struct {
		URL string `json:"url"`
	} `json:"rpc"`
}

// ChainListEndpointProvider fetches RPC endpoints from chainlist.org
// and performs health checks to prioritize reliable endpoints
type ChainListEndpointProvider struct {
	endpoints   map[int64][]string // chainID -> []rpc_urls
	sourceURL   string
	httpClient  *http.Client
	healthCheck func(ctx context.Context, endpoint string) bool
	logger      *slog.Logger
	mu          sync.RWMutex
}

// NewChainListEndpointProvider creates a provider that fetches from chainlist.org
func NewChainListEndpointProvider(logger *slog.Logger) *ChainListEndpointProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainListEndpointProvider{
		endpoints:   make(map[int64][]string),
		sourceURL:   DefaultChainListURL,
		httpClient:  &http.Client{Timeout: constants.HubTimeout},
		healthCheck: IsHealthy,
		logger:      logger,
	}
}

// WithSource points the provider at another catalogue (tests, mirrors)
func (p *ChainListEndpointProvider) WithSource(url string, client *http.Client) *ChainListEndpointProvider {
	p.sourceURL = url
	if client != nil {
		p.httpClient = client
	}
	return p
}

// GetEndpoints returns the prioritized endpoints for a network
func (p *ChainListEndpointProvider) GetEndpoints(network string) []string {
	chainID, ok := constants.NetworkToChainID[network]
	if !ok {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	endpoints := p.endpoints[chainID]
	if len(endpoints) == 0 {
		// Fallback to official endpoints if chainlist fetch hasn't completed
		return constants.OfficialRPCEndpoints[network]
	}

	return endpoints
}

// RefreshEndpoints fetches fresh endpoints for the given networks and
// health checks them. The previous list is kept until the new one is ready.
func (p *ChainListEndpointProvider) RefreshEndpoints(ctx context.Context, networks []string) error {
	wanted := make(map[int64]string, len(networks))
	for _, network := range networks {
		if chainID, ok := constants.NetworkToChainID[network]; ok {
			wanted[chainID] = network
		}
	}

	fresh := make(map[int64][]string, len(wanted))
	for chainID, network := range wanted {
		fresh[chainID] = append([]string(nil), constants.OfficialRPCEndpoints[network]...)
	}

	chainListData, err := p.fetchAllChains(ctx)
	if err != nil {
		p.logger.Warn("failed to fetch from chainlist.org, using official endpoints only", "error", err)
		p.swap(fresh)
		return err
	}

	addChainlistEndpoints(fresh, chainListData)
	p.healthCheckAndPrioritize(ctx, fresh)
	p.swap(fresh)

	return nil
}

func (p *ChainListEndpointProvider) swap(fresh map[int64][]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for chainID, endpoints := range fresh {
		p.endpoints[chainID] = endpoints
	}
}

// fetchAllChains fetches chain data from chainlist.org
func (p *ChainListEndpointProvider) fetchAllChains(ctx context.Context) ([]ChainListResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chainlist request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chainlist data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chainlist.org returned status %d", resp.StatusCode)
	}

	var chains []ChainListResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, constants.MaxResponseBodySize)).Decode(&chains); err != nil {
		return nil, fmt.Errorf("failed to decode chainlist data: %w", err)
	}

	return chains, nil
}

// addChainlistEndpoints appends chainlist endpoints for the chains already in dst
func addChainlistEndpoints(dst map[int64][]string, chainListData []ChainListResponse) {
	for _, chain := range chainListData {
		chainID := int64(chain.ChainID)
		existing, ok := dst[chainID]
		if !ok {
			continue
		}

		seen := make(map[string]bool, len(existing))
		for _, endpoint := range existing {
			seen[endpoint] = true
		}

		for _, rpc := range chain.RPC {
			// Only include HTTPS URLs and exclude templated URLs
			if !strings.HasPrefix(rpc.URL, "https://") || strings.Contains(rpc.URL, "${") {
				continue
			}
			if seen[rpc.URL] {
				continue
			}
			seen[rpc.URL] = true
			dst[chainID] = append(dst[chainID], rpc.URL)
		}
	}
}

// healthCheckAndPrioritize checks endpoint health and prioritizes working ones
func (p *ChainListEndpointProvider) healthCheckAndPrioritize(ctx context.Context, endpoints map[int64][]string) {
	for chainID, list := range endpoints {
		if len(list) == 0 {
			continue
		}

		var healthy, unhealthy []string
		for _, endpoint := range list {
			if p.healthCheck(ctx, endpoint) {
				healthy = append(healthy, endpoint)
			} else {
				unhealthy = append(unhealthy, endpoint)
			}
		}

		// Prioritize healthy endpoints first, then unhealthy as backup
		endpoints[chainID] = append(healthy, unhealthy...)

		p.logger.Debug("health check complete",
			"chainID", chainID,
			"healthy", len(healthy),
			"unhealthy", len(unhealthy))
	}
}
