package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/constants"
	"github.com/sigweihq/storepay/pkg/types"
)

// RPCClient implements chains.Ledger for EVM chains with endpoint failover.
// A JSON-RPC error returned by a node is an answer, not an outage, so it is
// returned immediately instead of being retried on the next endpoint.
type RPCClient struct {
	network   string
	chainID   int64
	endpoints []string
	logger    *slog.Logger
}

// NewRPCClient creates a new EVM RPC client
func NewRPCClient(network string, chainID int64, endpoints []string) *RPCClient {
	return &RPCClient{
		network:   network,
		chainID:   chainID,
		endpoints: endpoints,
		logger:    slog.Default(),
	}
}

var _ chains.Ledger = (*RPCClient)(nil)

// WithLogger sets the logger used for failover diagnostics
func (r *RPCClient) WithLogger(logger *slog.Logger) *RPCClient {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Endpoints returns the endpoints in configuration order
func (r *RPCClient) Endpoints() []string {
	return append([]string(nil), r.endpoints...)
}

// withFailover runs fn against each endpoint in turn until one answers.
// Uses random start position for load balancing across RPC endpoints.
func (r *RPCClient) withFailover(ctx context.Context, timeout time.Duration, fn func(context.Context, *ethclient.Client) error) error {
	if len(r.endpoints) == 0 {
		return fmt.Errorf("no RPC endpoints available for network %s", r.network)
	}

	startIdx := rand.Intn(len(r.endpoints))
	var lastErr error

	for i := 0; i < len(r.endpoints); i++ {
		if i > 0 {
			delay := time.Duration(i*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		// Wrap around using modulo for round-robin
		endpoint := r.endpoints[(startIdx+i)%len(r.endpoints)]

		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			lastErr = &RPCError{Endpoint: endpoint, Err: err}
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(callCtx, client)
		cancel()
		client.Close()

		if err == nil {
			return nil
		}
		if isDefinitive(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.logger.Debug("rpc endpoint failed", "network", r.network, "endpoint", endpoint, "error", err)
		lastErr = &RPCError{Endpoint: endpoint, Err: err}
	}

	return fmt.Errorf("all RPC endpoints failed for network %s: %w", r.network, lastErr)
}

// isDefinitive reports whether err is an answer from a node rather than a
// transport failure
func isDefinitive(err error) bool {
	if errors.Is(err, chains.ErrReceiptNotFound) {
		return true
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// broadcast sends one signed transaction, trying the endpoints in turn with
// the same bytes. A node that already knows the transaction has accepted it.
// Once an endpoint failed after the request left, the transaction may be in
// a mempool, and every later failure comes back as a chains.BroadcastError
// carrying its hash.
func (r *RPCClient) broadcast(ctx context.Context, tx *ethtypes.Transaction) error {
	sent := false
	err := r.withFailover(ctx, constants.CallContractTimeout, func(ctx context.Context, client *ethclient.Client) error {
		err := client.SendTransaction(ctx, tx)
		switch {
		case err == nil:
			return nil
		case isKnownTransaction(err):
			r.logger.Debug("transaction already known to endpoint", "network", r.network, "txHash", tx.Hash().Hex())
			return nil
		case sent && isNonceTooLow(err):
			// an earlier attempt landed and has been mined
			return nil
		}
		if !isDefinitive(err) {
			sent = true
		}
		return err
	})
	if err == nil {
		return nil
	}
	if sent {
		return &chains.BroadcastError{TxHash: tx.Hash().Hex(), Err: err}
	}
	return err
}

func isKnownTransaction(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func isNonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

// SuggestGasPrice implements chains.GasPriceSource
func (r *RPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := r.withFailover(ctx, constants.CallContractTimeout, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		price, err = client.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	return price, nil
}

// BlockNumber implements chains.ReceiptSource
func (r *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := r.withFailover(ctx, constants.TransactionReceiptTimeout, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		head, err = client.BlockNumber(ctx)
		return err
	})
	return head, err
}

// ChainID returns the chain id reported by the node
func (r *RPCClient) ChainID(ctx context.Context) (int64, error) {
	var id *big.Int
	err := r.withFailover(ctx, constants.CallContractTimeout, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		id, err = client.ChainID(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id.Int64(), nil
}

// TransactionReceipt implements chains.ReceiptSource
func (r *RPCClient) TransactionReceipt(ctx context.Context, txHash string) (chains.TransactionReceipt, error) {
	var receipt *ethtypes.Receipt
	err := r.withFailover(ctx, constants.TransactionReceiptTimeout, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		receipt, err = patchedTransactionReceipt(ctx, client, common.HexToHash(txHash))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &EVMReceipt{receipt: receipt}, nil
}

// Allowance implements chains.AllowanceReader
func (r *RPCClient) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	data, err := erc20ABI.Pack(methodAllowance, common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}

	var amount *big.Int
	if err := r.callAndUnpack(ctx, token, data, methodAllowance, &amount); err != nil {
		return nil, fmt.Errorf("allowance read failed: %w", err)
	}
	return amount, nil
}

// BalanceOf implements chains.Ledger
func (r *RPCClient) BalanceOf(ctx context.Context, token, account string) (*big.Int, error) {
	data, err := erc20ABI.Pack(methodBalanceOf, common.HexToAddress(account))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	var balance *big.Int
	if err := r.callAndUnpack(ctx, token, data, methodBalanceOf, &balance); err != nil {
		return nil, fmt.Errorf("balance read failed: %w", err)
	}
	return balance, nil
}

// TokenMetadata reads symbol() and decimals() from a token contract
func (r *RPCClient) TokenMetadata(ctx context.Context, token string) (types.TokenRef, error) {
	ref := types.TokenRef{ContractAddress: common.HexToAddress(token).Hex()}

	data, err := erc20ABI.Pack(methodDecimals)
	if err != nil {
		return ref, fmt.Errorf("failed to pack decimals call: %w", err)
	}
	if err := r.callAndUnpack(ctx, token, data, methodDecimals, &ref.DecimalPlaces); err != nil {
		return ref, fmt.Errorf("decimals read failed: %w", err)
	}

	data, err = erc20ABI.Pack(methodSymbol)
	if err != nil {
		return ref, fmt.Errorf("failed to pack symbol call: %w", err)
	}
	if err := r.callAndUnpack(ctx, token, data, methodSymbol, &ref.Symbol); err != nil {
		return ref, fmt.Errorf("symbol read failed: %w", err)
	}

	return ref, nil
}

// callAndUnpack makes an eth_call against a token contract and decodes the
// single return value into out
func (r *RPCClient) callAndUnpack(ctx context.Context, contract string, data []byte, method string, out any) error {
	result, err := r.callContract(ctx, contract, data)
	if err != nil {
		return fmt.Errorf("contract call failed: %w", err)
	}
	if err := erc20ABI.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("failed to decode contract call result: %w", err)
	}
	return nil
}

// callContract makes a contract call with RPC failover
func (r *RPCClient) callContract(ctx context.Context, contractAddress string, data []byte) ([]byte, error) {
	to := common.HexToAddress(contractAddress)
	msg := ethereum.CallMsg{To: &to, Data: data}

	var result []byte
	err := r.withFailover(ctx, constants.CallContractTimeout, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		result, err = client.CallContract(ctx, msg, nil)
		return err
	})
	return result, err
}

// IsHealthy reports whether an endpoint answers eth_blockNumber
func IsHealthy(ctx context.Context, endpoint string) bool {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return false
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	_, err = client.BlockNumber(ctx)
	return err == nil
}

// patchedTransactionReceipt gets a transaction receipt with Base-specific fixes
func patchedTransactionReceipt(ctx context.Context, client *ethclient.Client, txHash common.Hash) (*ethtypes.Receipt, error) {
	var raw json.RawMessage
	err := client.Client().CallContext(ctx, &raw, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, chains.ErrReceiptNotFound
	}

	cleaned, err := stripBlockTimestampFromLogs(raw)
	if err != nil {
		return nil, err
	}

	var receipt ethtypes.Receipt
	if err := json.Unmarshal(cleaned, &receipt); err != nil {
		return nil, err
	}

	return &receipt, nil
}

// stripBlockTimestampFromLogs removes the blockTimestamp field from transaction logs
func stripBlockTimestampFromLogs(raw json.RawMessage) ([]byte, error) {
	var receiptMap map[string]interface{}
	if err := json.Unmarshal(raw, &receiptMap); err != nil {
		return nil, err
	}

	logs, ok := receiptMap["logs"].([]interface{})
	if ok {
		for _, log := range logs {
			logMap, ok := log.(map[string]interface{})
			if ok {
				delete(logMap, "blockTimestamp")
			}
		}
	}

	return json.Marshal(receiptMap)
}

// EVMReceipt implements chains.TransactionReceipt
type EVMReceipt struct {
	receipt *ethtypes.Receipt
}

// NewEVMReceipt creates a new EVM receipt wrapper
func NewEVMReceipt(receipt *ethtypes.Receipt) *EVMReceipt {
	return &EVMReceipt{receipt: receipt}
}

func (r *EVMReceipt) IsSuccessful() bool {
	return r.receipt.Status == ethtypes.ReceiptStatusSuccessful
}

func (r *EVMReceipt) BlockNumber() uint64 {
	if r.receipt.BlockNumber == nil {
		return 0
	}
	return r.receipt.BlockNumber.Uint64()
}

// GetUnderlyingReceipt returns the underlying EVM receipt
func (r *EVMReceipt) GetUnderlyingReceipt() *ethtypes.Receipt {
	return r.receipt
}

// GetPurchaseEvent decodes the first ProductPurchased log in the receipt
func (r *EVMReceipt) GetPurchaseEvent() (*types.PurchaseEvent, error) {
	event := paymentABI.Events[eventProductPurchased]

	for _, log := range r.receipt.Logs {
		if len(log.Topics) < 2 || log.Topics[0] != event.ID {
			continue
		}

		values, err := event.Inputs.Unpack(log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode purchase event: %w", err)
		}
		if len(values) != 3 {
			return nil, fmt.Errorf("unexpected purchase event shape: %d values", len(values))
		}

		productID, _ := values[0].(string)
		amount, _ := values[1].(*big.Int)
		timestamp, _ := values[2].(*big.Int)
		if amount == nil || timestamp == nil {
			return nil, fmt.Errorf("unexpected purchase event field types")
		}

		return &types.PurchaseEvent{
			Buyer:     common.HexToAddress(log.Topics[1].Hex()).Hex(),
			ProductID: productID,
			Amount:    amount,
			Timestamp: timestamp.Uint64(),
			Contract:  log.Address.Hex(),
		}, nil
	}

	return nil, fmt.Errorf("no purchase event found")
}
