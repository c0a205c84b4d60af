// Package txflow submits the approval and purchase transactions and watches
// them until inclusion. Nothing here resubmits a transaction: a failed or
// timed-out watch is reported and left for the user to retry.
package txflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/constants"
	"github.com/sigweihq/storepay/pkg/types"
)

var (
	// ErrWatchTimeout is returned when no final receipt arrived in time
	ErrWatchTimeout = errors.New("receipt watch timeout")

	// ErrContractReverted is returned for receipts with a failed status
	ErrContractReverted = errors.New("transaction reverted")
)

// WatchConfig controls inclusion watching
type WatchConfig struct {
	PollInterval    time.Duration `validate:"gt=0"`
	MaxPollInterval time.Duration `validate:"gtefield=PollInterval"`
	Timeout         time.Duration `validate:"gt=0"`
	Confirmations   uint64        `validate:"gte=1"`
}

// DefaultWatchConfig polls every 2s backing off to 15s, for up to 3 minutes,
// and accepts a transaction once it is in a block
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		PollInterval:    constants.ReceiptPollInterval,
		MaxPollInterval: constants.ReceiptMaxPollInterval,
		Timeout:         constants.ReceiptWatchTimeout,
		Confirmations:   constants.DefaultConfirmations,
	}
}

var validate = validator.New()

// Validate checks the config
func (c WatchConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid watch config: %w", err)
	}
	return nil
}

// WatchResult is the final outcome of a watch
type WatchResult struct {
	Status      types.TxStatus
	BlockNumber uint64
	Receipt     chains.TransactionReceipt
}

// Watcher polls for receipts of submitted transactions
type Watcher struct {
	source chains.ReceiptSource
	cfg    WatchConfig
	logger *slog.Logger
}

// NewWatcher creates a watcher. An invalid config falls back to the defaults.
func NewWatcher(source chains.ReceiptSource, cfg WatchConfig, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("invalid watch config, using defaults", "error", err)
		cfg = DefaultWatchConfig()
	}
	return &Watcher{source: source, cfg: cfg, logger: logger}
}

// Config returns the effective config
func (w *Watcher) Config() WatchConfig {
	return w.cfg
}

// Wait blocks until txHash is confirmed or reverted, the watch times out, or
// ctx is done. onStatus (optional) is called once per status change, with
// the inclusion block once known. Lookup failures inside the timeout are
// logged and polled again.
func (w *Watcher) Wait(ctx context.Context, txHash string, onStatus func(types.TxStatus, uint64)) (WatchResult, error) {
	notify := func(status types.TxStatus, block uint64) {
		if onStatus != nil {
			onStatus(status, block)
		}
	}

	watchCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.PollInterval
	b.MaxInterval = w.cfg.MaxPollInterval
	b.MaxElapsedTime = 0
	ticker := backoff.NewTicker(backoff.WithContext(b, watchCtx))
	defer ticker.Stop()

	var (
		lastErr    error
		confirming bool
	)

	for {
		select {
		case <-watchCtx.Done():
			return WatchResult{Status: types.TxStatusPending}, w.expired(ctx, txHash, lastErr)
		case _, ok := <-ticker.C:
			if !ok {
				return WatchResult{Status: types.TxStatusPending}, w.expired(ctx, txHash, lastErr)
			}
		}

		receipt, err := w.source.TransactionReceipt(watchCtx, txHash)
		if errors.Is(err, chains.ErrReceiptNotFound) {
			continue
		}
		if err != nil {
			lastErr = err
			w.logger.Debug("receipt lookup failed", "txHash", txHash, "error", err)
			continue
		}

		block := receipt.BlockNumber()
		if !receipt.IsSuccessful() {
			notify(types.TxStatusReverted, block)
			return WatchResult{Status: types.TxStatusReverted, BlockNumber: block, Receipt: receipt},
				fmt.Errorf("transaction %s: %w", txHash, ErrContractReverted)
		}

		if !confirming {
			confirming = true
			notify(types.TxStatusConfirming, block)
		}

		final, err := w.isFinal(watchCtx, block)
		if err != nil {
			lastErr = err
			continue
		}
		if final {
			notify(types.TxStatusConfirmed, block)
			return WatchResult{Status: types.TxStatusConfirmed, BlockNumber: block, Receipt: receipt}, nil
		}
	}
}

func (w *Watcher) isFinal(ctx context.Context, block uint64) (bool, error) {
	if w.cfg.Confirmations <= 1 {
		return true, nil
	}
	head, err := w.source.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	return head >= block && head-block+1 >= w.cfg.Confirmations, nil
}

// expired distinguishes the caller giving up from the watch timing out
func (w *Watcher) expired(parent context.Context, txHash string, lastErr error) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if lastErr != nil {
		w.logger.Warn("receipt watch expired", "txHash", txHash, "lastError", lastErr)
	}
	return fmt.Errorf("transaction %s not confirmed within %s: %w (%w)", txHash, w.cfg.Timeout, ErrWatchTimeout, context.DeadlineExceeded)
}
