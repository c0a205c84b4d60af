package chains

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/sigweihq/storepay/pkg/types"
)

// ErrReceiptNotFound is returned while a transaction has not been included yet
var ErrReceiptNotFound = errors.New("transaction receipt not found")

// BroadcastError is returned when a signed transaction may have reached the
// network even though submission failed. TxHash is the hash it would be
// included under.
type BroadcastError struct {
	TxHash string
	Err    error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("transaction %s may have been broadcast: %v", e.TxHash, e.Err)
}

func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// ChainAdapter groups the chain-specific services for one network
type ChainAdapter interface {
	// Network returns the network name (e.g., "base", "polygon")
	Network() string

	// ChainID returns the numeric chain id
	ChainID() int64

	// Ledger returns the read-side client for this chain
	Ledger() Ledger
}

// GasPriceSource supplies the network's current suggested gas price in wei
type GasPriceSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// AllowanceReader reads ERC-20 allowance(owner, spender)
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
}

// ReceiptSource looks up transaction receipts and the chain head
type ReceiptSource interface {
	// TransactionReceipt returns ErrReceiptNotFound while the transaction is pending
	TransactionReceipt(ctx context.Context, txHash string) (TransactionReceipt, error)

	// BlockNumber returns the latest block height
	BlockNumber(ctx context.Context) (uint64, error)
}

// Ledger is the remote ground truth consumed by the payment flow
type Ledger interface {
	GasPriceSource
	AllowanceReader
	ReceiptSource

	// BalanceOf reads an ERC-20 balance
	BalanceOf(ctx context.Context, token, account string) (*big.Int, error)
}

// TransactionReceipt is a chain-agnostic transaction receipt
type TransactionReceipt interface {
	// IsSuccessful returns whether the transaction succeeded
	IsSuccessful() bool

	// BlockNumber returns the block the transaction was included in
	BlockNumber() uint64

	// GetPurchaseEvent returns the ProductPurchased event data if present
	GetPurchaseEvent() (*types.PurchaseEvent, error)
}

// Wallet submits transactions on behalf of the connected account. Submission
// returns as soon as the network accepted the transaction; inclusion is
// observed separately through a ReceiptSource.
type Wallet interface {
	// Account returns the connected account address ("" if none)
	Account() string

	// ChainID returns the chain the wallet is currently connected to
	ChainID(ctx context.Context) (int64, error)

	// Approve submits ERC-20 approve(spender, amount) on token
	Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error)

	// BuyProduct submits buyProduct(productId, amount) on the payment contract
	BuyProduct(ctx context.Context, paymentContract, productID string, amount *big.Int) (string, error)
}
