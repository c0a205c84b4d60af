package txflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/types"
)

// PurchaseParams describes one buyProduct(productId, amount) call
type PurchaseParams struct {
	Network         types.NetworkDefinition
	PaymentContract string
	ProductID       string
	Amount          *big.Int // minor units
}

// PurchaseResult is the outcome of a confirmed purchase
type PurchaseResult struct {
	Record  types.TransactionRecord
	Receipt chains.TransactionReceipt
	// Event is nil when the receipt carries no ProductPurchased log
	Event *types.PurchaseEvent
}

// PurchaseController submits purchases and watches their inclusion
type PurchaseController struct {
	*driver
	wallet chains.Wallet
}

// NewPurchaseController creates a controller
func NewPurchaseController(wallet chains.Wallet, watcher *Watcher, logger *slog.Logger) *PurchaseController {
	return &PurchaseController{
		driver: newDriver(types.TxKindPurchase, watcher, logger),
		wallet: wallet,
	}
}

// Submit validates params, submits the purchase and starts watching it with
// ctx. It fails before any network call when an address is unresolved.
func (c *PurchaseController) Submit(ctx context.Context, p PurchaseParams) (types.TransactionRecord, error) {
	if err := c.validate(p); err != nil {
		return types.TransactionRecord{}, err
	}
	if err := c.begin(); err != nil {
		return types.TransactionRecord{}, err
	}

	txHash, err := c.wallet.BuyProduct(ctx, p.PaymentContract, p.ProductID, p.Amount)
	if err != nil {
		err = fmt.Errorf("purchase submission failed: %w", err)
		return c.abort(err, p.Network), err
	}

	return c.track(ctx, txHash, p.Network), nil
}

func (c *PurchaseController) validate(p PurchaseParams) error {
	if c.wallet == nil || !common.IsHexAddress(c.wallet.Account()) {
		return fmt.Errorf("%w: buyer", ErrUnresolvedAddress)
	}
	if !common.IsHexAddress(p.PaymentContract) || common.HexToAddress(p.PaymentContract) == (common.Address{}) {
		return fmt.Errorf("%w: payment contract %q", ErrUnresolvedAddress, p.PaymentContract)
	}
	if p.ProductID == "" {
		return errors.New("product id is required")
	}
	if p.Amount == nil || p.Amount.Sign() < 0 {
		return errors.New("purchase amount must not be negative")
	}
	return nil
}

// Await waits for the current purchase and decodes its purchase event
func (c *PurchaseController) Await(ctx context.Context) (PurchaseResult, error) {
	record, receipt, err := c.await(ctx)
	result := PurchaseResult{Record: record, Receipt: receipt}
	if err != nil {
		return result, err
	}

	if receipt != nil {
		event, evErr := receipt.GetPurchaseEvent()
		if evErr != nil {
			c.logger.Warn("purchase receipt has no purchase event", "txHash", record.Hash, "error", evErr)
		} else {
			result.Event = event
		}
	}
	return result, nil
}

// Record returns the latest purchase record, if any
func (c *PurchaseController) Record() (types.TransactionRecord, bool) {
	return c.current()
}

// InFlight reports whether a purchase is being watched
func (c *PurchaseController) InFlight() bool {
	return c.inFlight()
}

// Subscribe registers fn for submission and status updates
func (c *PurchaseController) Subscribe(fn func(Update)) func() {
	return c.subs.Subscribe(fn)
}
