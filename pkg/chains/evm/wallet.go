package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/constants"
	"github.com/sigweihq/storepay/pkg/utils"
)

// ErrInvalidKey is returned for malformed private keys
var ErrInvalidKey = errors.New("invalid private key")

// KeyWallet signs and submits legacy transactions with a local private key.
// It backs the operational scripts and the CLI checkout.
type KeyWallet struct {
	key           *ecdsa.PrivateKey
	address       common.Address
	rpc           *RPCClient
	marginPercent int64
	logger        *slog.Logger
}

// WalletOption configures a KeyWallet
type WalletOption func(*KeyWallet)

// WithGasPriceMargin bids percent of the suggested gas price (e.g. 110).
// Zero keeps the node's suggestion unchanged.
func WithGasPriceMargin(percent int64) WalletOption {
	return func(w *KeyWallet) {
		w.marginPercent = percent
	}
}

// WithWalletLogger sets the wallet logger
func WithWalletLogger(logger *slog.Logger) WalletOption {
	return func(w *KeyWallet) {
		if logger != nil {
			w.logger = logger
		}
	}
}

var _ chains.Wallet = (*KeyWallet)(nil)

// NewKeyWallet creates a wallet submitting through rpc
func NewKeyWallet(key *ecdsa.PrivateKey, rpc *RPCClient, opts ...WalletOption) *KeyWallet {
	w := &KeyWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		rpc:     rpc,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ParsePrivateKey parses a hex private key with or without 0x prefix
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrInvalidKey
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// Account implements chains.Wallet
func (w *KeyWallet) Account() string {
	return w.address.Hex()
}

// ChainID implements chains.Wallet
func (w *KeyWallet) ChainID(ctx context.Context) (int64, error) {
	return w.rpc.ChainID(ctx)
}

// Approve implements chains.Wallet
func (w *KeyWallet) Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error) {
	data, err := erc20ABI.Pack(methodApprove, common.HexToAddress(spender), amount)
	if err != nil {
		return "", fmt.Errorf("failed to pack approve call: %w", err)
	}
	return w.transact(ctx, token, data)
}

// BuyProduct implements chains.Wallet
func (w *KeyWallet) BuyProduct(ctx context.Context, paymentContract, productID string, amount *big.Int) (string, error) {
	data, err := paymentABI.Pack(methodBuyProduct, productID, amount)
	if err != nil {
		return "", fmt.Errorf("failed to pack buyProduct call: %w", err)
	}
	return w.transact(ctx, paymentContract, data)
}

// RegisterProduct submits registerProduct(productId, price) on the payment contract
func (w *KeyWallet) RegisterProduct(ctx context.Context, paymentContract, productID string, price *big.Int) (string, error) {
	data, err := paymentABI.Pack(methodRegisterProduct, productID, price)
	if err != nil {
		return "", fmt.Errorf("failed to pack registerProduct call: %w", err)
	}
	return w.transact(ctx, paymentContract, data)
}

// transact signs and sends a zero-value call to contract. The transaction is
// signed once; endpoint failover only repeats the reads that prepare it and
// the broadcast of the same signed bytes.
func (w *KeyWallet) transact(ctx context.Context, contract string, data []byte) (string, error) {
	if !common.IsHexAddress(contract) {
		return "", fmt.Errorf("invalid contract address: %q", contract)
	}
	to := common.HexToAddress(contract)

	tx, chainID, err := w.prepare(ctx, to, data)
	if err != nil {
		return "", err
	}

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := w.rpc.broadcast(ctx, signed); err != nil {
		return "", err
	}

	txHash := signed.Hash().Hex()
	w.logger.Info("transaction submitted", "network", w.rpc.network, "txHash", txHash, "to", to.Hex(), "nonce", signed.Nonce())
	return txHash, nil
}

// prepare reads chain id, nonce, gas price and gas limit from one endpoint
func (w *KeyWallet) prepare(ctx context.Context, to common.Address, data []byte) (*ethtypes.Transaction, *big.Int, error) {
	var (
		tx      *ethtypes.Transaction
		chainID *big.Int
	)
	err := w.rpc.withFailover(ctx, constants.CallContractTimeout, func(ctx context.Context, client *ethclient.Client) error {
		id, err := client.ChainID(ctx)
		if err != nil {
			return err
		}

		nonce, err := client.PendingNonceAt(ctx, w.address)
		if err != nil {
			return err
		}

		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		if w.marginPercent > 0 {
			gasPrice = utils.ApplyPercent(gasPrice, w.marginPercent)
		}

		gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Data: data})
		if err != nil {
			if isDefinitive(err) {
				return fmt.Errorf("gas estimation failed: %w", err)
			}
			return err
		}

		chainID = id
		tx = ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    big.NewInt(0),
			Gas:      gas,
			GasPrice: gasPrice,
			Data:     data,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return tx, chainID, nil
}
