package txflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/types"
	"github.com/sigweihq/storepay/pkg/utils"
)

var (
	// ErrUnresolvedAddress is returned before any network call when a
	// required address is missing or malformed
	ErrUnresolvedAddress = errors.New("required address not resolved")

	// ErrInFlight is returned when a transaction of the same kind is still
	// being watched
	ErrInFlight = errors.New("transaction already in flight")

	// ErrNothingSubmitted is returned by Await before any submission
	ErrNothingSubmitted = errors.New("no transaction submitted")
)

// Update is published on submission and on every status change
type Update struct {
	Record types.TransactionRecord
	// Err is set when the watch ended without confirmation
	Err  error
	Done bool
}

// driver is the submit-then-watch core shared by both controllers
type driver struct {
	kind    types.TxKind
	watcher *Watcher
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	record  *types.TransactionRecord
	receipt chains.TransactionReceipt
	err     error
	done    chan struct{}
	subs    utils.Subscribers[Update]
}

func newDriver(kind types.TxKind, watcher *Watcher, logger *slog.Logger) *driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &driver{kind: kind, watcher: watcher, logger: logger, now: time.Now}
}

// begin reserves the driver for a new submission
func (d *driver) begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		select {
		case <-d.done:
		default:
			return ErrInFlight
		}
	}
	d.record = nil
	d.receipt = nil
	d.err = nil
	d.done = make(chan struct{})
	return nil
}

// abort releases a reservation after a failed submission. When the
// transaction may still have reached the network the record keeps its hash
// so the explorer link survives the error.
func (d *driver) abort(err error, network types.NetworkDefinition) types.TransactionRecord {
	var record types.TransactionRecord
	var broadcastErr *chains.BroadcastError
	if errors.As(err, &broadcastErr) && broadcastErr.TxHash != "" {
		record = d.newRecord(broadcastErr.TxHash, network)
	}

	d.mu.Lock()
	d.err = err
	if record.Hash != "" {
		rec := record
		d.record = &rec
	}
	done := d.done
	d.mu.Unlock()

	if record.Hash != "" {
		d.logger.Warn("transaction outcome unknown", "kind", d.kind, "txHash", record.Hash, "error", err)
		d.subs.Publish(Update{Record: record, Err: err, Done: true})
	}
	close(done)
	return record
}

func (d *driver) newRecord(txHash string, network types.NetworkDefinition) types.TransactionRecord {
	return types.TransactionRecord{
		Hash:        txHash,
		Kind:        d.kind,
		ChainID:     network.ChainID,
		SubmittedAt: d.now(),
		Status:      types.TxStatusPending,
		ExplorerURL: network.TxExplorerURL(txHash),
	}
}

// track records a submitted hash and watches it in the background
func (d *driver) track(ctx context.Context, txHash string, network types.NetworkDefinition) types.TransactionRecord {
	record := d.newRecord(txHash, network)

	// the watch goroutine owns rec from here on
	rec := record
	d.mu.Lock()
	d.record = &rec
	done := d.done
	d.mu.Unlock()

	d.logger.Info("transaction submitted", "kind", d.kind, "txHash", txHash, "chainID", network.ChainID)
	d.subs.Publish(Update{Record: record})

	go d.watch(ctx, txHash, done)
	return record
}

func (d *driver) watch(ctx context.Context, txHash string, done chan struct{}) {
	result, err := d.watcher.Wait(ctx, txHash, func(status types.TxStatus, block uint64) {
		if status.IsTerminal() {
			return // published below together with the receipt
		}
		d.publish(func(r *types.TransactionRecord) {
			r.Status = status
			r.BlockNumber = block
		}, nil, false)
	})

	d.mu.Lock()
	d.receipt = result.Receipt
	d.err = err
	d.mu.Unlock()

	d.publish(func(r *types.TransactionRecord) {
		if result.Status.IsTerminal() {
			r.Status = result.Status
			r.BlockNumber = result.BlockNumber
		}
	}, err, true)

	if err != nil {
		d.logger.Warn("transaction not confirmed", "kind", d.kind, "txHash", txHash, "error", err)
	} else {
		d.logger.Info("transaction confirmed", "kind", d.kind, "txHash", txHash, "block", result.BlockNumber)
	}
	close(done)
}

func (d *driver) publish(mutate func(*types.TransactionRecord), err error, final bool) {
	d.mu.Lock()
	if d.record == nil {
		d.mu.Unlock()
		return
	}
	mutate(d.record)
	update := Update{Record: *d.record, Err: err, Done: final}
	d.mu.Unlock()

	d.subs.Publish(update)
}

// await waits for the current transaction to finish
func (d *driver) await(ctx context.Context) (types.TransactionRecord, chains.TransactionReceipt, error) {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return types.TransactionRecord{}, nil, ErrNothingSubmitted
	}

	select {
	case <-ctx.Done():
		record, _ := d.current()
		return record, nil, ctx.Err()
	case <-done:
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var record types.TransactionRecord
	if d.record != nil {
		record = *d.record
	}
	return record, d.receipt, d.err
}

func (d *driver) current() (types.TransactionRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.record == nil {
		return types.TransactionRecord{}, false
	}
	return *d.record, true
}

func (d *driver) inFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}
