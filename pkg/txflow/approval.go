package txflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/constants"
	"github.com/sigweihq/storepay/pkg/types"
)

// ApprovalParams describes one approve(spender, amount) call
type ApprovalParams struct {
	Network types.NetworkDefinition
	Token   string
	Spender string
	// Amount is the purchase amount; in infinite mode the submitted
	// amount is the 2^256-1 sentinel instead
	Amount *big.Int
}

// ApprovalController submits ERC-20 approvals and watches their inclusion
type ApprovalController struct {
	*driver
	wallet chains.Wallet
	mode   string
}

// NewApprovalController creates a controller. mode is
// constants.ApprovalModeInfinite (default when empty) or ApprovalModeExact.
func NewApprovalController(wallet chains.Wallet, watcher *Watcher, mode string, logger *slog.Logger) *ApprovalController {
	if mode == "" {
		mode = constants.ApprovalModeInfinite
	}
	return &ApprovalController{
		driver: newDriver(types.TxKindApproval, watcher, logger),
		wallet: wallet,
		mode:   mode,
	}
}

// Mode returns the approval mode
func (c *ApprovalController) Mode() string {
	return c.mode
}

// ApprovalAmount returns what will be authorized for a purchase amount
func (c *ApprovalController) ApprovalAmount(purchase *big.Int) *big.Int {
	if c.mode == constants.ApprovalModeExact && purchase != nil {
		return new(big.Int).Set(purchase)
	}
	return new(big.Int).Set(math.MaxBig256)
}

// Submit validates params, submits the approval and starts watching it with
// ctx. It fails before any network call when an address is unresolved, and
// returns ErrInFlight while a previous approval is still being watched.
func (c *ApprovalController) Submit(ctx context.Context, p ApprovalParams) (types.TransactionRecord, error) {
	if err := c.validate(p); err != nil {
		return types.TransactionRecord{}, err
	}
	if err := c.begin(); err != nil {
		return types.TransactionRecord{}, err
	}

	amount := c.ApprovalAmount(p.Amount)
	txHash, err := c.wallet.Approve(ctx, p.Token, p.Spender, amount)
	if err != nil {
		err = fmt.Errorf("approval submission failed: %w", err)
		return c.abort(err, p.Network), err
	}

	return c.track(ctx, txHash, p.Network), nil
}

func (c *ApprovalController) validate(p ApprovalParams) error {
	if c.wallet == nil || !common.IsHexAddress(c.wallet.Account()) {
		return fmt.Errorf("%w: owner", ErrUnresolvedAddress)
	}
	if !common.IsHexAddress(p.Token) {
		return fmt.Errorf("%w: token %q", ErrUnresolvedAddress, p.Token)
	}
	if !common.IsHexAddress(p.Spender) || common.HexToAddress(p.Spender) == (common.Address{}) {
		return fmt.Errorf("%w: spender %q", ErrUnresolvedAddress, p.Spender)
	}
	if c.mode == constants.ApprovalModeExact && (p.Amount == nil || p.Amount.Sign() <= 0) {
		return fmt.Errorf("exact approval needs a positive amount")
	}
	return nil
}

// Await waits for the current approval to be confirmed, reverted or to time out
func (c *ApprovalController) Await(ctx context.Context) (types.TransactionRecord, error) {
	record, _, err := c.await(ctx)
	return record, err
}

// Record returns the latest approval record, if any
func (c *ApprovalController) Record() (types.TransactionRecord, bool) {
	return c.current()
}

// InFlight reports whether an approval is being watched
func (c *ApprovalController) InFlight() bool {
	return c.inFlight()
}

// Subscribe registers fn for submission and status updates
func (c *ApprovalController) Subscribe(fn func(Update)) func() {
	return c.subs.Subscribe(fn)
}
