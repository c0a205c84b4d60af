// Package gas keeps an advisory cost estimate for a standard token-transfer
// class call on the connected network. The estimate never feeds the gas
// parameters of submitted transactions.
package gas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/constants"
	"github.com/sigweihq/storepay/pkg/types"
	"github.com/sigweihq/storepay/pkg/utils"
)

// Config holds the estimator's numeric inputs
type Config struct {
	PollInterval    time.Duration   `validate:"gt=0"`
	GasUnits        uint64          `validate:"gt=0"`
	NativeFiatPrice decimal.Decimal // reference price of one native coin
}

// DefaultConfig returns the 15s / 100,000 units / $2500 defaults
func DefaultConfig() Config {
	return Config{
		PollInterval:    constants.GasPollInterval,
		GasUnits:        constants.ReferenceGasUnits,
		NativeFiatPrice: decimal.RequireFromString(constants.ReferenceNativeFiatUSD),
	}
}

var validate = validator.New()

// Validate checks the config
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid gas config: %w", err)
	}
	if c.NativeFiatPrice.IsNegative() {
		return errors.New("invalid gas config: native fiat price must not be negative")
	}
	return nil
}

// Estimator polls a GasPriceSource and publishes GasEstimate values
type Estimator struct {
	src    chains.GasPriceSource
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	estimate types.GasEstimate
	subs     utils.Subscribers[types.GasEstimate]

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEstimator creates an estimator; call Start to begin polling
func NewEstimator(src chains.GasPriceSource, cfg Config, logger *slog.Logger) (*Estimator, error) {
	if src == nil {
		return nil, errors.New("gas price source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		src:    src,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Start refreshes immediately and then on every poll interval until ctx is
// done or Stop is called. Starting a running estimator is a no-op.
func (e *Estimator) Start(ctx context.Context) {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.loop(ctx, e.done)
}

// Stop ends polling and waits for the loop to exit
func (e *Estimator) Stop() {
	e.loopMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *Estimator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		_ = e.Refresh(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh fetches the gas price once. On failure the previous values are
// kept and Error is set, so callers can tell "stale" from "never loaded".
func (e *Estimator) Refresh(ctx context.Context) error {
	e.update(func(g *types.GasEstimate) { g.Loading = true })

	price, err := e.src.SuggestGasPrice(ctx)
	if err == nil && price == nil {
		err = errors.New("empty gas price")
	}
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("gas price fetch failed", "error", err)
		}
		e.update(func(g *types.GasEstimate) {
			g.Loading = false
			g.Error = err.Error()
		})
		return err
	}

	next := e.compute(price)
	e.update(func(g *types.GasEstimate) { *g = next })
	e.logger.Debug("gas estimate updated",
		"gasPriceGwei", next.GasPriceGwei.String(),
		"estimatedCostNative", next.EstimatedCostNative.String())
	return nil
}

func (e *Estimator) compute(priceWei *big.Int) types.GasEstimate {
	costWei := new(big.Int).Mul(priceWei, new(big.Int).SetUint64(e.cfg.GasUnits))
	native := utils.WeiToNative(costWei)

	return types.GasEstimate{
		GasPriceGwei:        utils.WeiToGwei(priceWei),
		EstimatedCostNative: native,
		EstimatedCostFiat:   native.Mul(e.cfg.NativeFiatPrice),
		UpdatedAt:           e.now(),
	}
}

func (e *Estimator) update(fn func(*types.GasEstimate)) {
	e.mu.Lock()
	fn(&e.estimate)
	snapshot := e.estimate
	e.mu.Unlock()

	e.subs.Publish(snapshot)
}

// Estimate returns the latest estimate
func (e *Estimator) Estimate() types.GasEstimate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.estimate
}

// Subscribe registers fn for every estimate change
func (e *Estimator) Subscribe(fn func(types.GasEstimate)) func() {
	return e.subs.Subscribe(fn)
}
