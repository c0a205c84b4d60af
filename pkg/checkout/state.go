package checkout

import (
	"math/big"

	"github.com/sigweihq/storepay/pkg/allowance"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/errclass"
	"github.com/sigweihq/storepay/pkg/metrics"
	"github.com/sigweihq/storepay/pkg/txflow"
	"github.com/sigweihq/storepay/pkg/types"
)

// rebuildLocked starts a new generation: fresh monitor and controllers for
// the current intent, idle, nothing carried over
func (o *Orchestrator) rebuildLocked() {
	for _, unsub := range o.unsubs {
		unsub()
	}
	o.unsubs = nil

	o.gen++
	gen := o.gen
	o.active = false
	o.busy = false
	o.approving = false
	o.blocked = false
	o.approvalRec = nil
	o.purchaseRec = nil
	o.event = nil
	o.err = nil
	o.verification = nil
	o.verificationErr = nil

	o.watcher = txflow.NewWatcher(o.ledger, o.opts.watch, o.logger)
	o.monitor = allowance.NewMonitor(o.ledger, allowance.Params{
		Token:   o.intent.Token.ContractAddress,
		Owner:   o.deps.Wallet.Account(),
		Spender: o.intent.Network.PaymentContractAddress,
		Target:  o.intent.AmountMinorUnits(),
	}, o.logger)
	o.allowance = o.monitor.State()
	o.approval = txflow.NewApprovalController(o.deps.Wallet, o.watcher, o.opts.approvalMode, o.logger)
	o.purchase = txflow.NewPurchaseController(o.deps.Wallet, o.watcher, o.logger)

	o.unsubs = append(o.unsubs,
		o.monitor.Subscribe(func(s allowance.State) { o.onAllowance(gen, s) }),
		o.approval.Subscribe(func(u txflow.Update) { o.onRecord(gen, u, &o.approvalRec) }),
		o.purchase.Subscribe(func(u txflow.Update) { o.onRecord(gen, u, &o.purchaseRec) }),
	)
}

func (o *Orchestrator) onAllowance(gen uint64, s allowance.State) {
	o.mu.Lock()
	if !o.currentLocked(gen) {
		o.mu.Unlock()
		return
	}
	o.allowance = s
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)
}

func (o *Orchestrator) onRecord(gen uint64, u txflow.Update, dst **types.TransactionRecord) {
	o.mu.Lock()
	if !o.currentLocked(gen) {
		o.mu.Unlock()
		return
	}
	rec := u.Record
	*dst = &rec
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)
}

// currentLocked reports whether results of generation gen still apply
func (o *Orchestrator) currentLocked(gen uint64) bool {
	return !o.closed && o.gen == gen
}

// deriveLocked computes the single user-facing status
func (o *Orchestrator) deriveLocked() types.OrchestrationStatus {
	if !o.active {
		return types.StatusIdle
	}
	if o.err != nil {
		return types.StatusError
	}
	if rec := o.purchaseRec; rec != nil {
		switch rec.Status {
		case types.TxStatusPending:
			return types.StatusPending
		case types.TxStatusConfirming:
			return types.StatusConfirming
		case types.TxStatusConfirmed:
			return types.StatusSuccess
		case types.TxStatusReverted:
			return types.StatusError
		}
	}
	if o.approving {
		return types.StatusApproving
	}
	// a trigger re-reading the allowance keeps the status it started from
	if o.busy && o.allowance.Status == allowance.StatusChecking {
		return o.status
	}
	switch o.allowance.Status {
	case allowance.StatusApproved:
		return types.StatusApproved
	case allowance.StatusNeedsApproval:
		return types.StatusNeedsApproval
	case allowance.StatusError:
		return types.StatusError
	default:
		return types.StatusCheckingApproval
	}
}

// commitLocked re-derives the status, records transitions and returns the
// snapshot to publish
func (o *Orchestrator) commitLocked() Snapshot {
	next := o.deriveLocked()
	if next != o.status {
		o.logger.Info("checkout status changed", "from", o.status, "to", next, "network", o.intent.Network.Name)
		o.opts.metrics.IncCounter(metrics.StatusTransition, map[string]string{
			"network": o.intent.Network.Name,
			"value":   string(next),
		})
		o.status = next
	}
	o.seq++
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Seq:              o.seq,
		SessionID:        o.intent.SessionID,
		Intent:           o.intent,
		Status:           o.status,
		Blocked:          o.blocked,
		PaymentAvailable: chains.PaymentAvailable(o.intent.Network, o.intent.Token.Symbol),
		Allowance:        copyInt(o.allowance.Allowance),
		Target:           o.intent.AmountMinorUnits(),
		Event:            o.event,
		Gas:              o.gasEst,
		Verification:     o.verification,
		VerificationErr:  o.verificationErr,
	}
	if o.approvalRec != nil {
		rec := *o.approvalRec
		snap.Approval = &rec
	}
	if o.purchaseRec != nil {
		rec := *o.purchaseRec
		snap.Purchase = &rec
		snap.TxHash = rec.Hash
	}

	err := o.err
	if err == nil && o.allowance.Status == allowance.StatusError {
		err = o.allowance.Err
	}
	if err != nil && o.status == types.StatusError {
		category := errclass.FromError(err)
		snap.Err = err
		snap.ErrorCategory = category
		snap.ErrorMessage = category.Message()
		snap.Cancelled = category.IsCancellation()
	}
	return snap
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
