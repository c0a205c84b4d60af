package evm

import (
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/constants"
)

// BaseEVMAdapter provides common EVM functionality that all EVM chains share
type BaseEVMAdapter struct {
	network   string
	chainID   int64
	rpc       *RPCClient
	validator *PurchaseValidator
}

// NewBaseEVMAdapter creates a base EVM adapter with common functionality
func NewBaseEVMAdapter(network string, chainID int64, endpoints []string) *BaseEVMAdapter {
	return &BaseEVMAdapter{
		network:   network,
		chainID:   chainID,
		rpc:       NewRPCClient(network, chainID, endpoints),
		validator: NewPurchaseValidator(),
	}
}

// Network implements chains.ChainAdapter
func (a *BaseEVMAdapter) Network() string {
	return a.network
}

// ChainID implements chains.ChainAdapter
func (a *BaseEVMAdapter) ChainID() int64 {
	return a.chainID
}

// Ledger implements chains.ChainAdapter
func (a *BaseEVMAdapter) Ledger() chains.Ledger {
	return a.rpc
}

// RPC returns the concrete client (token metadata, wallet submission)
func (a *BaseEVMAdapter) RPC() *RPCClient {
	return a.rpc
}

// Validator returns the purchase receipt validator
func (a *BaseEVMAdapter) Validator() *PurchaseValidator {
	return a.validator
}

// NewEVMAdapter creates an EVM chain adapter for any EVM-compatible network
// Network must be registered in constants.NetworkToChainID
func NewEVMAdapter(network string, endpoints []string) (*BaseEVMAdapter, error) {
	chainID, ok := constants.NetworkToChainID[network]
	if !ok {
		return nil, &UnsupportedNetworkError{Network: network}
	}
	return NewBaseEVMAdapter(network, chainID, endpoints), nil
}
