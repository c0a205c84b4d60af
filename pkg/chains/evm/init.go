package evm

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/constants"
)

// InitEVMChains registers adapters for the given networks (all known networks
// when none are given). Adapters start on the official endpoints; chainlist.org
// endpoints are discovered and health checked in the background and the
// adapters are re-registered every constants.EndpointRefreshInterval until ctx
// is cancelled.
func InitEVMChains(ctx context.Context, logger *slog.Logger, networksToMonitor ...string) (*chains.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := chains.InitGlobalRegistry()

	if len(networksToMonitor) == 0 {
		for network := range constants.NetworkToChainID {
			networksToMonitor = append(networksToMonitor, network)
		}
		sort.Strings(networksToMonitor)
	}

	provider := NewChainListEndpointProvider(logger)
	registerAdapters(logger, registry, provider, networksToMonitor)

	go startBackgroundRefresh(ctx, logger, provider, registry, networksToMonitor, constants.EndpointRefreshInterval)

	return registry, nil
}

// InitEVMChainsWithEndpoints initializes EVM chains with user-provided endpoints
func InitEVMChainsWithEndpoints(logger *slog.Logger, endpoints map[string][]string) (*chains.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := chains.InitGlobalRegistry()

	for network, networkEndpoints := range endpoints {
		if len(networkEndpoints) == 0 {
			logger.Warn("no endpoints provided for network", "network", network)
			continue
		}

		adapter, err := NewEVMAdapter(network, networkEndpoints)
		if err != nil {
			logger.Warn("failed to create EVM adapter", "network", network, "error", err)
			continue
		}

		if err := registry.Register(adapter); err != nil {
			logger.Warn("failed to register EVM adapter", "network", network, "error", err)
		}
	}

	return registry, nil
}

func registerAdapters(logger *slog.Logger, registry *chains.Registry, provider *ChainListEndpointProvider, networks []string) {
	for _, network := range networks {
		endpoints := provider.GetEndpoints(network)
		if len(endpoints) == 0 {
			logger.Warn("no endpoints available for network", "network", network)
			continue
		}

		adapter, err := NewEVMAdapter(network, endpoints)
		if err != nil {
			logger.Warn("failed to create EVM adapter", "network", network, "error", err)
			continue
		}

		// Re-register (will update existing entry)
		if err := registry.Register(adapter); err != nil {
			logger.Warn("failed to register EVM adapter", "network", network, "error", err)
		}
	}
}

// startBackgroundRefresh refreshes endpoints once immediately, then on every tick
func startBackgroundRefresh(ctx context.Context, logger *slog.Logger, provider *ChainListEndpointProvider, registry *chains.Registry, networks []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := provider.RefreshEndpoints(ctx, networks); err != nil {
			logger.Warn("background endpoint refresh failed", "error", err)
		} else {
			registerAdapters(logger, registry, provider, networks)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
