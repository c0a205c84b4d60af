// Package ops holds the operator-side helpers behind the storepay CLI:
// signer loading, gas bidding, address checks and product registration.
package ops

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/chains/evm"
	"github.com/sigweihq/storepay/pkg/constants"
	"github.com/sigweihq/storepay/pkg/txflow"
	"github.com/sigweihq/storepay/pkg/types"
	"github.com/sigweihq/storepay/pkg/utils"
)

// EnvPrivateKey names the variable holding the operator key
const EnvPrivateKey = "STOREPAY_PRIVATE_KEY"

var (
	// ErrMissingSigner is returned when no private key is configured
	ErrMissingSigner = errors.New(EnvPrivateKey + " is not set")

	// ErrMissingAddress is returned when a required address is empty
	ErrMissingAddress = errors.New("required address is missing")
)

// LoadSigner reads the operator key from the environment or a .env file in
// the working directory
func LoadSigner() (*ecdsa.PrivateKey, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	raw := strings.TrimSpace(os.Getenv(EnvPrivateKey))
	if raw == "" {
		return nil, ErrMissingSigner
	}
	return evm.ParsePrivateKey(raw)
}

// GasPriceWithMargin returns 110% of the suggested gas price
func GasPriceWithMargin(ctx context.Context, src chains.GasPriceSource) (*big.Int, error) {
	price, err := src.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return utils.ApplyPercent(price, constants.GasPriceMarginPercent), nil
}

// RequireAddresses checks that every named address is set and well formed.
// Names are reported in sorted order.
func RequireAddresses(named map[string]string) error {
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)

	var missing []string
	for _, name := range names {
		addr := strings.TrimSpace(named[name])
		if addr == "" {
			missing = append(missing, name)
			continue
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s: invalid address %q", name, addr)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingAddress, strings.Join(missing, ", "))
	}
	return nil
}

// ProductRegistrar submits registerProduct calls. evm.KeyWallet implements it.
type ProductRegistrar interface {
	RegisterProduct(ctx context.Context, paymentContract, productID string, price *big.Int) (string, error)
}

// RegisterParams describes one product registration
type RegisterParams struct {
	Network   types.NetworkDefinition
	Token     types.TokenRef
	ProductID string
	Price     decimal.Decimal // major units of Token
}

// RegisterProduct registers a product price on the network's payment
// contract and waits for the transaction to be included
func RegisterProduct(ctx context.Context, registrar ProductRegistrar, watcher *txflow.Watcher, params RegisterParams, logger *slog.Logger) (types.TransactionRecord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := RequireAddresses(map[string]string{"payment contract": params.Network.PaymentContractAddress}); err != nil {
		return types.TransactionRecord{}, err
	}
	if params.ProductID == "" {
		return types.TransactionRecord{}, errors.New("product id is required")
	}
	if !params.Price.IsPositive() {
		return types.TransactionRecord{}, fmt.Errorf("price must be positive, got %s", params.Price)
	}

	minor := params.Token.ToMinorUnits(params.Price)
	hash, err := registrar.RegisterProduct(ctx, params.Network.PaymentContractAddress, params.ProductID, minor)
	if err != nil {
		err = fmt.Errorf("failed to register product %s: %w", params.ProductID, err)
		var broadcastErr *chains.BroadcastError
		if errors.As(err, &broadcastErr) {
			record := pendingRecord(params.Network, broadcastErr.TxHash)
			logger.Warn("registration outcome unknown, check the explorer before retrying",
				"txHash", record.Hash,
				"explorer", record.ExplorerURL)
			return record, err
		}
		return types.TransactionRecord{}, err
	}

	record := pendingRecord(params.Network, hash)
	logger.Info("product registration submitted",
		"network", params.Network.Name,
		"product", params.ProductID,
		"price", minor.String(),
		"txHash", hash)

	res, err := watcher.Wait(ctx, hash, nil)
	record.Status = res.Status
	record.BlockNumber = res.BlockNumber
	if err != nil {
		return record, err
	}

	logger.Info("product registered", "product", params.ProductID, "block", res.BlockNumber)
	return record, nil
}

func pendingRecord(network types.NetworkDefinition, hash string) types.TransactionRecord {
	return types.TransactionRecord{
		Hash:        hash,
		Kind:        types.TxKindRegistration,
		ChainID:     network.ChainID,
		SubmittedAt: time.Now(),
		Status:      types.TxStatusPending,
		ExplorerURL: network.TxExplorerURL(hash),
	}
}
