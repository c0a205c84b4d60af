package evm

import "fmt"

// UnsupportedNetworkError is returned when a network is not in the network table
type UnsupportedNetworkError struct {
	Network string
}

func (e *UnsupportedNetworkError) Error() string {
	return fmt.Sprintf("unsupported network: %s (add to constants.NetworkToChainID)", e.Network)
}

// RPCError represents a transport failure on one endpoint
type RPCError struct {
	Endpoint string
	Err      error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error on %s: %v", e.Endpoint, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}
