package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sigweihq/storepay/pkg/allowance"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/errclass"
	"github.com/sigweihq/storepay/pkg/gas"
	"github.com/sigweihq/storepay/pkg/metrics"
	"github.com/sigweihq/storepay/pkg/txflow"
	"github.com/sigweihq/storepay/pkg/types"
	"github.com/sigweihq/storepay/pkg/utils"
)

// Orchestrator is one checkout session. Its methods are safe for concurrent
// use. Snapshots published to subscribers can arrive out of order when
// several goroutines report at once; Snapshot.Seq orders them.
type Orchestrator struct {
	deps   Deps
	opts   options
	logger *slog.Logger

	ctx    context.Context // session lifetime, cancelled by Close
	cancel context.CancelFunc
	wg     sync.WaitGroup

	gas        *gas.Estimator
	gasUnsub   func()
	gasRunning bool

	mu       sync.Mutex
	closed   bool
	gen      uint64 // bumped by Reset and Select
	seq      uint64
	intent   types.PaymentIntent
	ledger   chains.Ledger
	watcher  *txflow.Watcher
	monitor  *allowance.Monitor
	approval *txflow.ApprovalController
	purchase *txflow.PurchaseController
	unsubs   []func()

	active          bool // false while idle
	busy            bool // a trigger is between validation and submission
	approving       bool // approval submitted, allowance not yet re-read
	blocked         bool
	allowance       allowance.State
	approvalRec     *types.TransactionRecord
	purchaseRec     *types.TransactionRecord
	event           *types.PurchaseEvent
	err             error
	gasEst          types.GasEstimate
	verification    *types.VerifyResponse
	verificationErr error
	status          types.OrchestrationStatus

	subs utils.Subscribers[Snapshot]
}

// Start begins gas polling (when configured) and performs the initial
// allowance read
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	est := o.gas
	o.gasRunning = est != nil
	o.mu.Unlock()

	if est != nil {
		est.Start(o.ctx)
	}
	_, err := o.Refresh(ctx)
	return err
}

// Refresh re-reads the allowance. It leaves transaction errors in place;
// use Reset to start over.
func (o *Orchestrator) Refresh(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	o.active = true
	monitor := o.monitor
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)

	_, err := monitor.Refresh(ctx)
	return o.Snapshot(), err
}

// Reset returns the session to idle and reads the allowance again. A
// transaction already submitted keeps running on the network but no longer
// affects this session.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.rebuildLocked()
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)

	o.logger.Info("checkout reset")
	_, err := o.Refresh(ctx)
	return err
}

// Select switches the session to another network/token pair. The session
// goes back to idle and nothing from the previous pair is reused; call
// Refresh to read the new allowance.
func (o *Orchestrator) Select(network, token string) error {
	def, ok := o.deps.Networks.LookupByName(network)
	if !ok {
		return fmt.Errorf("unknown network %q", network)
	}
	tok, err := chains.TokenFor(def, token)
	if err != nil {
		return err
	}

	ledger := o.deps.Ledger
	if o.deps.Registry != nil {
		adapter, err := o.deps.Registry.Get(network)
		if err != nil {
			return err
		}
		ledger = adapter.Ledger()
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	ledgerChanged := ledger != o.ledger
	o.intent.Network = def
	o.intent.Token = tok
	o.ledger = ledger
	o.rebuildLocked()
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)

	o.logger.Info("checkout selection changed", "network", def.Name, "token", tok.Symbol)
	if ledgerChanged {
		return o.swapGas(ledger)
	}
	return nil
}

// Authorize submits the token approval. Only enabled in needs-approval.
func (o *Orchestrator) Authorize(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if status := o.deriveLocked(); o.busy || status != types.StatusNeedsApproval {
		o.mu.Unlock()
		return fmt.Errorf("%w: authorize while %s", ErrActionUnavailable, status)
	}
	if !chains.PaymentAvailable(o.intent.Network, o.intent.Token.Symbol) {
		o.mu.Unlock()
		return chains.ErrPaymentUnavailable
	}
	o.busy = true
	gen, intent, approval, monitor := o.gen, o.intent, o.approval, o.monitor
	o.mu.Unlock()

	if err := o.checkChain(ctx, gen); err != nil {
		return err
	}

	o.mu.Lock()
	if !o.currentLocked(gen) {
		o.mu.Unlock()
		return ErrActionUnavailable
	}
	o.approving = true
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)

	submitCtx, detach, cancel := o.submitContext(ctx)
	_, err := approval.Submit(submitCtx, txflow.ApprovalParams{
		Network: intent.Network,
		Token:   intent.Token.ContractAddress,
		Spender: intent.Network.PaymentContractAddress,
		Amount:  intent.AmountMinorUnits(),
	})
	detach()
	if err != nil {
		cancel()
		o.fail(gen, err, func() { o.approving = false })
		return err
	}

	o.count(metrics.TxSubmitted, string(types.TxKindApproval))
	if !o.spawn(gen) {
		cancel()
		return ErrClosed
	}
	go o.settleApproval(gen, approval, monitor, cancel)
	return nil
}

// settleApproval owns cancel, which ends the receipt watch context
func (o *Orchestrator) settleApproval(gen uint64, approval *txflow.ApprovalController, monitor *allowance.Monitor, cancel context.CancelFunc) {
	defer o.wg.Done()
	defer cancel()

	rec, err := approval.Await(o.ctx)
	if err != nil {
		o.fail(gen, err, func() { o.approving = false })
		return
	}
	o.observeConfirmed(rec)

	// the cached allowance predates the approval
	if _, err := monitor.Refresh(o.ctx); err != nil {
		o.logger.Warn("allowance re-read after approval failed", "error", err)
	}

	o.mu.Lock()
	if !o.currentLocked(gen) {
		o.mu.Unlock()
		return
	}
	o.approving = false
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)
}

// Purchase submits buyProduct. Only enabled in approved; in needs-approval
// it returns ErrApprovalRequired without touching the network. The
// allowance is re-read right before submission.
func (o *Orchestrator) Purchase(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	status := o.deriveLocked()
	switch {
	case status == types.StatusNeedsApproval:
		o.mu.Unlock()
		return ErrApprovalRequired
	case o.busy || status != types.StatusApproved:
		o.mu.Unlock()
		return fmt.Errorf("%w: purchase while %s", ErrActionUnavailable, status)
	}
	if !chains.PaymentAvailable(o.intent.Network, o.intent.Token.Symbol) {
		o.mu.Unlock()
		return chains.ErrPaymentUnavailable
	}
	o.busy = true
	gen, intent, purchase, monitor := o.gen, o.intent, o.purchase, o.monitor
	o.mu.Unlock()

	if err := o.checkChain(ctx, gen); err != nil {
		return err
	}

	state, err := monitor.Refresh(ctx)
	if err != nil {
		o.fail(gen, err, nil)
		return err
	}
	if !state.IsApproved() {
		o.release(gen)
		return ErrApprovalRequired
	}

	submitCtx, detach, cancel := o.submitContext(ctx)
	_, err = purchase.Submit(submitCtx, txflow.PurchaseParams{
		Network:         intent.Network,
		PaymentContract: intent.Network.PaymentContractAddress,
		ProductID:       intent.ProductID,
		Amount:          intent.AmountMinorUnits(),
	})
	detach()
	if err != nil {
		cancel()
		o.fail(gen, err, nil)
		return err
	}

	o.count(metrics.TxSubmitted, string(types.TxKindPurchase))
	if !o.spawn(gen) {
		cancel()
		return ErrClosed
	}
	go o.settlePurchase(gen, purchase, cancel)
	return nil
}

func (o *Orchestrator) settlePurchase(gen uint64, purchase *txflow.PurchaseController, cancel context.CancelFunc) {
	defer o.wg.Done()
	defer cancel()

	result, err := purchase.Await(o.ctx)
	if err != nil {
		o.fail(gen, err, func() {
			if result.Record.Hash != "" {
				o.purchaseRec = &result.Record
			}
		})
		return
	}
	o.observeConfirmed(result.Record)

	o.mu.Lock()
	if !o.currentLocked(gen) {
		o.mu.Unlock()
		return
	}
	o.purchaseRec = &result.Record
	o.event = result.Event
	intent := o.intent
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)

	o.logger.Info("purchase confirmed", "txHash", result.Record.Hash, "product", intent.ProductID, "block", result.Record.BlockNumber)
	o.verify(gen, intent, result.Record)
}

// verify hands the confirmed purchase to the verification service once.
// The answer is informational; it never changes the status.
func (o *Orchestrator) verify(gen uint64, intent types.PaymentIntent, rec types.TransactionRecord) {
	if o.opts.verifier == nil {
		return
	}

	resp, err := o.opts.verifier.Verify(o.ctx, types.VerifyRequest{
		OrderID: intent.OrderID,
		TxHash:  rec.Hash,
		ChainID: rec.ChainID,
	})

	value := "error"
	switch {
	case err != nil:
		o.logger.Warn("order verification failed", "txHash", rec.Hash, "orderID", intent.OrderID, "error", err)
	case resp.Verified:
		value = "verified"
	default:
		value = "unverified"
	}
	o.count(metrics.VerificationResult, value)

	o.mu.Lock()
	if !o.currentLocked(gen) {
		o.mu.Unlock()
		return
	}
	o.verification = resp
	o.verificationErr = err
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)
}

// Balance reads the connected account's balance of the selected token
func (o *Orchestrator) Balance(ctx context.Context) (decimal.Decimal, error) {
	o.mu.Lock()
	ledger, token := o.ledger, o.intent.Token
	o.mu.Unlock()

	raw, err := ledger.BalanceOf(ctx, token.ContractAddress, o.deps.Wallet.Account())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read %s balance: %w", token.Symbol, err)
	}
	return token.ToMajorUnits(raw), nil
}

// Snapshot returns the current state
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Subscribe registers fn for every state change and returns the
// unsubscribe func. fn runs on the reporting goroutine.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) func() {
	return o.subs.Subscribe(fn)
}

// Close stops gas polling and every receipt watch and waits for them.
// Submitted transactions are not affected on-chain.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	unsubs := o.unsubs
	o.unsubs = nil
	est, gasUnsub := o.gas, o.gasUnsub
	o.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if est != nil {
		gasUnsub()
		est.Stop()
	}
	o.cancel()
	o.wg.Wait()
	o.subs.Clear()
	o.logger.Debug("checkout closed")
}

// checkChain blocks submission while the wallet is on another chain
func (o *Orchestrator) checkChain(ctx context.Context, gen uint64) error {
	o.mu.Lock()
	want := o.intent.Network.ChainID
	o.mu.Unlock()

	got, err := o.deps.Wallet.ChainID(ctx)
	if err != nil {
		err = fmt.Errorf("failed to read wallet chain: %w", err)
		o.fail(gen, err, nil)
		return err
	}

	o.mu.Lock()
	if !o.currentLocked(gen) {
		o.mu.Unlock()
		return ErrActionUnavailable
	}
	o.blocked = got != want
	if o.blocked {
		o.busy = false
	}
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)

	if got != want {
		o.logger.Warn("wallet on wrong chain", "want", want, "got", got)
		return fmt.Errorf("%w: connected to %d, checkout needs %d", ErrWrongChain, got, want)
	}
	return nil
}

// submitContext ties the wallet call to the caller's ctx and the receipt
// watch to the session. detach must be called once submission returned.
func (o *Orchestrator) submitContext(ctx context.Context) (context.Context, func(), context.CancelFunc) {
	submitCtx, cancel := context.WithCancel(o.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return submitCtx, func() { stop() }, cancel
}

// spawn releases the trigger and registers a settle goroutine unless the
// session was closed. The record itself arrives through the controller
// subscription.
func (o *Orchestrator) spawn(gen uint64) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if o.gen == gen {
		o.busy = false
	}
	o.wg.Add(1)
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)
	return true
}

// fail records err as the session error
func (o *Orchestrator) fail(gen uint64, err error, mutate func()) {
	category := errclass.FromError(err)

	o.mu.Lock()
	if !o.currentLocked(gen) {
		o.mu.Unlock()
		return
	}
	o.busy = false
	if mutate != nil {
		mutate()
	}
	o.err = err
	network := o.intent.Network.Name
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)

	o.opts.metrics.IncCounter(metrics.CheckoutError, map[string]string{"network": network, "value": string(category)})
	if category.IsCancellation() {
		o.logger.Info("checkout cancelled by user", "error", err)
	} else {
		o.logger.Warn("checkout failed", "category", category, "error", err)
	}
}

func (o *Orchestrator) release(gen uint64) {
	o.mu.Lock()
	if !o.currentLocked(gen) {
		o.mu.Unlock()
		return
	}
	o.busy = false
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)
}

func (o *Orchestrator) swapGas(ledger chains.Ledger) error {
	if o.opts.gas == nil {
		return nil
	}
	next, err := gas.NewEstimator(ledger, *o.opts.gas, o.logger)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	prev, prevUnsub := o.gas, o.gasUnsub
	o.gas = next
	o.gasUnsub = next.Subscribe(o.onGas)
	o.gasEst = types.GasEstimate{}
	running := o.gasRunning
	o.mu.Unlock()

	prevUnsub()
	prev.Stop()
	if running {
		next.Start(o.ctx)
	}
	return nil
}

func (o *Orchestrator) onGas(est types.GasEstimate) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.gasEst = est
	snap := o.commitLocked()
	o.mu.Unlock()
	o.subs.Publish(snap)
}

func (o *Orchestrator) count(name, value string) {
	o.mu.Lock()
	network := o.intent.Network.Name
	o.mu.Unlock()
	o.opts.metrics.IncCounter(name, map[string]string{"network": network, "value": value})
}

func (o *Orchestrator) observeConfirmed(rec types.TransactionRecord) {
	o.count(metrics.TxConfirmed, string(rec.Kind))
	if !rec.SubmittedAt.IsZero() {
		o.mu.Lock()
		network := o.intent.Network.Name
		o.mu.Unlock()
		o.opts.metrics.ObserveLatency(metrics.ConfirmLatency+"_"+string(rec.Kind), time.Since(rec.SubmittedAt), map[string]string{"network": network})
	}
}
