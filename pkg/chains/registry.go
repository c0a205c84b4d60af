package chains

import (
	"fmt"
	"sync"
)

// Registry manages chain adapters for different blockchain networks
type Registry struct {
	adapters map[string]ChainAdapter
	byChain  map[int64]string
	mu       sync.RWMutex
}

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
)

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]ChainAdapter),
		byChain:  make(map[int64]string),
	}
}

// InitGlobalRegistry initializes the global chain registry
func InitGlobalRegistry() *Registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// GetGlobalRegistry returns the global chain registry (returns nil if not initialized)
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register registers a chain adapter (uses adapter.Network() as key)
// If an adapter already exists for the network, it will be replaced (idempotent)
func (r *Registry) Register(adapter ChainAdapter) error {
	if adapter == nil {
		return fmt.Errorf("cannot register nil adapter")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	network := adapter.Network()
	r.adapters[network] = adapter
	r.byChain[adapter.ChainID()] = network
	return nil
}

// Get retrieves a chain adapter by network name
func (r *Registry) Get(network string) (ChainAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[network]
	if !exists {
		return nil, fmt.Errorf("no adapter registered for network: %s", network)
	}

	return adapter, nil
}

// GetByChainID retrieves a chain adapter by numeric chain id
func (r *Registry) GetByChainID(chainID int64) (ChainAdapter, error) {
	r.mu.RLock()
	network, ok := r.byChain[chainID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no adapter registered for chain id: %d", chainID)
	}
	return r.Get(network)
}

// GetSupportedNetworks returns a list of all registered networks
func (r *Registry) GetSupportedNetworks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networks := make([]string, 0, len(r.adapters))
	for network := range r.adapters {
		networks = append(networks, network)
	}
	return networks
}

// IsSupported checks if a network is supported
func (r *Registry) IsSupported(network string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.adapters[network]
	return exists
}

// Unregister removes a chain adapter (useful for testing)
func (r *Registry) Unregister(network string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter, ok := r.adapters[network]; ok {
		delete(r.byChain, adapter.ChainID())
	}
	delete(r.adapters, network)
}

// ResetGlobalRegistry resets the global registry (useful for testing)
func ResetGlobalRegistry() {
	globalRegistry = nil
	globalRegistryOnce = sync.Once{}
}
