package evm

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcFailure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fakeNode answers JSON-RPC calls from a method table
func fakeNode(t *testing.T, handlers map[string]func(params []json.RawMessage) (any, *rpcFailure)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		handler, ok := handlers[req.Method]
		if !ok {
			resp["error"] = rpcFailure{Code: -32601, Message: "method not found: " + req.Method}
		} else if result, failure := handler(req.Params); failure != nil {
			resp["error"] = failure
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	return server, &calls
}

func deadEndpoint(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func uint256Result(v *big.Int) any {
	return hexutil.Encode(common.LeftPadBytes(v.Bytes(), 32))
}

func TestRPCClient_NoEndpoints(t *testing.T) {
	client := NewRPCClient("base", 8453, nil)

	_, err := client.SuggestGasPrice(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no RPC endpoints available for network base")
}

func TestRPCClient_SuggestGasPrice(t *testing.T) {
	node, _ := fakeNode(t, map[string]func([]json.RawMessage) (any, *rpcFailure){
		"eth_gasPrice": func([]json.RawMessage) (any, *rpcFailure) { return "0x3b9aca00", nil },
	})

	client := NewRPCClient("base", 8453, []string{node.URL})
	price, err := client.SuggestGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000_000), price)
}

func TestRPCClient_FailsOverOnTransportError(t *testing.T) {
	node, calls := fakeNode(t, map[string]func([]json.RawMessage) (any, *rpcFailure){
		"eth_blockNumber": func([]json.RawMessage) (any, *rpcFailure) { return "0x10", nil },
	})

	client := NewRPCClient("base", 8453, []string{deadEndpoint(t), node.URL})
	head, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), head)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRPCClient_AllEndpointsFail(t *testing.T) {
	client := NewRPCClient("polygon", 137, []string{deadEndpoint(t), deadEndpoint(t)})

	_, err := client.BlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all RPC endpoints failed for network polygon")

	var rpcErr *RPCError
	assert.True(t, errors.As(err, &rpcErr))
}

func TestRPCClient_Allowance(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	token := "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

	expectedData, err := erc20ABI.Pack(methodAllowance, owner, spender)
	require.NoError(t, err)

	node, _ := fakeNode(t, map[string]func([]json.RawMessage) (any, *rpcFailure){
		"eth_call": func(params []json.RawMessage) (any, *rpcFailure) {
			var msg struct {
				To    string `json:"to"`
				Input string `json:"input"`
				Data  string `json:"data"`
			}
			require.NoError(t, json.Unmarshal(params[0], &msg))
			assert.True(t, common.HexToAddress(msg.To) == common.HexToAddress(token))

			input := msg.Input
			if input == "" {
				input = msg.Data
			}
			assert.Equal(t, hexutil.Encode(expectedData), input)
			return uint256Result(big.NewInt(249_000_000)), nil
		},
	})

	client := NewRPCClient("base", 8453, []string{node.URL})
	amount, err := client.Allowance(context.Background(), token, owner.Hex(), spender.Hex())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(249_000_000), amount)
}

func TestRPCClient_RevertIsNotRetried(t *testing.T) {
	node, calls := fakeNode(t, map[string]func([]json.RawMessage) (any, *rpcFailure){
		"eth_call": func([]json.RawMessage) (any, *rpcFailure) {
			return nil, &rpcFailure{Code: 3, Message: "execution reverted"}
		},
	})

	client := NewRPCClient("base", 8453, []string{node.URL, node.URL})
	_, err := client.BalanceOf(context.Background(), "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "0x1111111111111111111111111111111111111111")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRPCClient_TokenMetadata(t *testing.T) {
	decimalsData, err := erc20ABI.Pack(methodDecimals)
	require.NoError(t, err)
	symbolResult, err := erc20ABI.Methods[methodSymbol].Outputs.Pack("USDC")
	require.NoError(t, err)

	node, _ := fakeNode(t, map[string]func([]json.RawMessage) (any, *rpcFailure){
		"eth_call": func(params []json.RawMessage) (any, *rpcFailure) {
			var msg map[string]any
			require.NoError(t, json.Unmarshal(params[0], &msg))
			input, _ := msg["input"].(string)
			if input == "" {
				input, _ = msg["data"].(string)
			}
			if input == hexutil.Encode(decimalsData) {
				return uint256Result(big.NewInt(6)), nil
			}
			return hexutil.Encode(symbolResult), nil
		},
	})

	client := NewRPCClient("base", 8453, []string{node.URL})
	ref, err := client.TokenMetadata(context.Background(), "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	require.NoError(t, err)
	assert.Equal(t, "USDC", ref.Symbol)
	assert.Equal(t, uint8(6), ref.DecimalPlaces)
	assert.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", ref.ContractAddress)
}

func TestRPCClient_ReceiptNotFound(t *testing.T) {
	node, calls := fakeNode(t, map[string]func([]json.RawMessage) (any, *rpcFailure){
		"eth_getTransactionReceipt": func([]json.RawMessage) (any, *rpcFailure) { return nil, nil },
	})

	client := NewRPCClient("base", 8453, []string{node.URL, node.URL})
	_, err := client.TransactionReceipt(context.Background(), "0xabc")
	assert.ErrorIs(t, err, chains.ErrReceiptNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStripBlockTimestampFromLogs(t *testing.T) {
	raw := json.RawMessage(`{"status":"0x1","logs":[{"address":"0x01","blockTimestamp":"0x5"}]}`)

	cleaned, err := stripBlockTimestampFromLogs(raw)
	require.NoError(t, err)
	assert.NotContains(t, string(cleaned), "blockTimestamp")
	assert.Contains(t, string(cleaned), `"address":"0x01"`)
}

func purchaseLog(t *testing.T, contract, buyer common.Address, productID string, amount, ts int64) *ethtypes.Log {
	t.Helper()
	event := paymentABI.Events[eventProductPurchased]
	data, err := event.Inputs.NonIndexed().Pack(productID, big.NewInt(amount), big.NewInt(ts))
	require.NoError(t, err)

	return &ethtypes.Log{
		Address: contract,
		Topics:  []common.Hash{event.ID, common.BytesToHash(buyer.Bytes())},
		Data:    data,
	}
}

func TestEVMReceipt_GetPurchaseEvent(t *testing.T) {
	contract := common.HexToAddress("0x3333333333333333333333333333333333333333")
	buyer := common.HexToAddress("0x1111111111111111111111111111111111111111")

	transfer := &ethtypes.Log{
		Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		Topics:  []common.Hash{common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")},
	}

	receipt := NewEVMReceipt(&ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(42),
		Logs:        []*ethtypes.Log{transfer, purchaseLog(t, contract, buyer, "prod-249", 249_000_000, 1_700_000_000)},
	})

	assert.True(t, receipt.IsSuccessful())
	assert.Equal(t, uint64(42), receipt.BlockNumber())

	event, err := receipt.GetPurchaseEvent()
	require.NoError(t, err)
	assert.Equal(t, buyer.Hex(), event.Buyer)
	assert.Equal(t, "prod-249", event.ProductID)
	assert.Equal(t, big.NewInt(249_000_000), event.Amount)
	assert.Equal(t, uint64(1_700_000_000), event.Timestamp)
	assert.Equal(t, contract.Hex(), event.Contract)
	assert.Equal(t, ProductPurchasedTopic(), paymentABI.Events[eventProductPurchased].ID)
}

func TestEVMReceipt_NoPurchaseEvent(t *testing.T) {
	receipt := NewEVMReceipt(&ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed})

	assert.False(t, receipt.IsSuccessful())
	assert.Equal(t, uint64(0), receipt.BlockNumber())

	_, err := receipt.GetPurchaseEvent()
	assert.Error(t, err)
}

func TestMaxApproval(t *testing.T) {
	expected := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	assert.Equal(t, 0, MaxApproval().Cmp(expected))

	// callers get a fresh copy
	MaxApproval().SetInt64(0)
	assert.Equal(t, 0, MaxApproval().Cmp(expected))
}
