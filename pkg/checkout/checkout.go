// Package checkout drives one wallet checkout session: allowance check,
// optional approval, purchase and hand-off to order verification. All state
// is exposed as a single OrchestrationStatus derived from the allowance
// monitor and the two transaction controllers.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/errclass"
	"github.com/sigweihq/storepay/pkg/gas"
	"github.com/sigweihq/storepay/pkg/metrics"
	"github.com/sigweihq/storepay/pkg/txflow"
	"github.com/sigweihq/storepay/pkg/types"
)

var (
	// ErrApprovalRequired is returned by Purchase while the allowance does
	// not cover the amount. Nothing is submitted.
	ErrApprovalRequired = errors.New("token approval required before purchase")

	// ErrActionUnavailable is returned when a trigger is not enabled in the
	// current status
	ErrActionUnavailable = errors.New("action not available in current status")

	// ErrWrongChain is returned when the wallet is connected to another chain
	ErrWrongChain = errors.New("wallet connected to the wrong chain")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("checkout session closed")
)

// Verifier is the order verification boundary. hubclient's OrdersClient
// satisfies it.
type Verifier interface {
	Verify(ctx context.Context, req types.VerifyRequest) (*types.VerifyResponse, error)
}

// Deps are the collaborators of a session
type Deps struct {
	Ledger chains.Ledger
	Wallet chains.Wallet

	// Networks resolves Select calls; defaults to chains.DefaultNetworkTable
	Networks *chains.NetworkTable

	// Registry, when set, supplies the ledger of a newly selected network.
	// Without it Select keeps using Ledger.
	Registry *chains.Registry
}

type options struct {
	logger       *slog.Logger
	metrics      metrics.Recorder
	verifier     Verifier
	watch        txflow.WatchConfig
	approvalMode string
	gas          *gas.Config
}

// Option configures an Orchestrator
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(r metrics.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

// WithVerifier enables the verification hand-off after success
func WithVerifier(v Verifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithWatchConfig sets receipt polling, timeout and confirmation depth
func WithWatchConfig(cfg txflow.WatchConfig) Option {
	return func(o *options) { o.watch = cfg }
}

// WithApprovalMode selects constants.ApprovalModeInfinite (default) or
// constants.ApprovalModeExact
func WithApprovalMode(mode string) Option {
	return func(o *options) { o.approvalMode = mode }
}

// WithGasEstimator runs a gas estimator for the lifetime of the session
func WithGasEstimator(cfg gas.Config) Option {
	return func(o *options) { o.gas = &cfg }
}

// Snapshot is a consistent view of the session
type Snapshot struct {
	Seq       uint64
	SessionID string
	Intent    types.PaymentIntent
	Status    types.OrchestrationStatus

	// Cancelled marks an error caused by the user declining a wallet prompt
	Cancelled bool
	// Blocked is set while the wallet is on another chain than the intent
	Blocked bool
	// PaymentAvailable is false for "coming soon" network/token pairs
	PaymentAvailable bool

	Allowance *big.Int // nil until read
	Target    *big.Int

	Approval *types.TransactionRecord
	Purchase *types.TransactionRecord
	// TxHash is the purchase hash handed to verification
	TxHash string
	Event  *types.PurchaseEvent

	Err           error
	ErrorCategory errclass.Category
	ErrorMessage  string

	Gas types.GasEstimate

	Verification    *types.VerifyResponse
	VerificationErr error
}

// New creates a session for intent. The session is idle until Start.
func New(intent types.PaymentIntent, deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Ledger == nil {
		return nil, errors.New("checkout: ledger is required")
	}
	if deps.Wallet == nil {
		return nil, errors.New("checkout: wallet is required")
	}
	if intent.ProductID == "" {
		return nil, errors.New("checkout: product id is required")
	}
	if intent.AmountMajorUnits.IsNegative() {
		return nil, fmt.Errorf("checkout: negative amount %s", intent.AmountMajorUnits)
	}
	if deps.Networks == nil {
		deps.Networks = chains.DefaultNetworkTable()
	}

	cfg := options{
		metrics: metrics.NoopRecorder{},
		watch:   txflow.DefaultWatchConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	if intent.SessionID == "" {
		intent.SessionID = uuid.NewString()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:   deps,
		opts:   cfg,
		logger: cfg.logger.With("session", intent.SessionID),
		ctx:    ctx,
		cancel: cancel,
		intent: intent,
		ledger: deps.Ledger,
		status: types.StatusIdle,
	}

	if cfg.gas != nil {
		est, err := gas.NewEstimator(deps.Ledger, *cfg.gas, o.logger)
		if err != nil {
			cancel()
			return nil, err
		}
		o.gas = est
		o.gasUnsub = est.Subscribe(o.onGas)
	}

	o.mu.Lock()
	o.rebuildLocked()
	o.mu.Unlock()

	return o, nil
}
