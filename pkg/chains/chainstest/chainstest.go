// Package chainstest provides in-memory chains.Ledger and chains.Wallet
// implementations for tests.
package chainstest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/types"
)

// Receipt is a canned transaction receipt
type Receipt struct {
	Success bool
	Block   uint64
	Event   *types.PurchaseEvent
}

func (r *Receipt) IsSuccessful() bool  { return r.Success }
func (r *Receipt) BlockNumber() uint64 { return r.Block }
func (r *Receipt) GetPurchaseEvent() (*types.PurchaseEvent, error) {
	if r.Event == nil {
		return nil, errors.New("no purchase event found")
	}
	return r.Event, nil
}

// Ledger is an in-memory chains.Ledger
type Ledger struct {
	mu         sync.Mutex
	allowances map[string]*big.Int
	balances   map[string]*big.Int
	receipts   map[string]*Receipt
	head       uint64

	GasPrice     *big.Int
	GasErr       error
	AllowanceErr error
	ReceiptErr   error

	allowanceReads int
	receiptReads   int
}

var _ chains.Ledger = (*Ledger)(nil)

// NewLedger creates an empty ledger at block 100
func NewLedger() *Ledger {
	return &Ledger{
		allowances: make(map[string]*big.Int),
		balances:   make(map[string]*big.Int),
		receipts:   make(map[string]*Receipt),
		head:       100,
		GasPrice:   big.NewInt(1_000_000_000),
	}
}

func key(parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
	}
	return strings.Join(parts, "/")
}

// SetAllowance sets allowance(owner, spender) on token
func (l *Ledger) SetAllowance(token, owner, spender string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[key(token, owner, spender)] = new(big.Int).Set(amount)
}

// SetBalance sets balanceOf(account) on token
func (l *Ledger) SetBalance(token, account string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[key(token, account)] = new(big.Int).Set(amount)
}

// SetReceipt makes a receipt available for hash
func (l *Ledger) SetReceipt(hash string, receipt *Receipt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receipts[strings.ToLower(hash)] = receipt
}

// SetHead sets the latest block number
func (l *Ledger) SetHead(head uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head = head
}

// Head returns the latest block number
func (l *Ledger) Head() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// SetAllowanceErr makes allowance reads fail
func (l *Ledger) SetAllowanceErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.AllowanceErr = err
}

// SetGas sets the gas price or the gas price error
func (l *Ledger) SetGas(price *big.Int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.GasPrice = price
	l.GasErr = err
}

// AllowanceReads returns how many allowance reads were served
func (l *Ledger) AllowanceReads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowanceReads
}

func (l *Ledger) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.GasErr != nil {
		return nil, l.GasErr
	}
	return new(big.Int).Set(l.GasPrice), nil
}

func (l *Ledger) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowanceReads++
	if l.AllowanceErr != nil {
		return nil, l.AllowanceErr
	}
	if v, ok := l.allowances[key(token, owner, spender)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (l *Ledger) BalanceOf(ctx context.Context, token, account string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.balances[key(token, account)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (l *Ledger) TransactionReceipt(ctx context.Context, txHash string) (chains.TransactionReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiptReads++
	if l.ReceiptErr != nil {
		return nil, l.ReceiptErr
	}
	r, ok := l.receipts[strings.ToLower(txHash)]
	if !ok {
		return nil, chains.ErrReceiptNotFound
	}
	return r, nil
}

func (l *Ledger) BlockNumber(ctx context.Context) (uint64, error) {
	return l.Head(), nil
}

// Call is one recorded wallet submission
type Call struct {
	Method   string
	Contract string
	Spender  string
	Product  string
	Amount   *big.Int
	Hash     string
}

// Wallet is an in-memory chains.Wallet. With AutoMine set, submissions
// land on the ledger immediately (receipt, allowance, purchase event);
// otherwise tests call Mine.
type Wallet struct {
	mu       sync.Mutex
	ledger   *Ledger
	account  string
	chainID  int64
	calls    []Call
	approveF error
	buyF     error
	revert   bool
	nonce    int
	lastCtx  context.Context

	AutoMine bool
}

var _ chains.Wallet = (*Wallet)(nil)

// NewWallet creates a wallet for account on chainID, mining into ledger
func NewWallet(ledger *Ledger, account string, chainID int64) *Wallet {
	return &Wallet{ledger: ledger, account: account, chainID: chainID, AutoMine: true}
}

// FailApprove makes the next approvals fail with err (nil clears)
func (w *Wallet) FailApprove(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.approveF = err
}

// FailBuy makes the next purchases fail with err (nil clears)
func (w *Wallet) FailBuy(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buyF = err
}

// RevertNext makes mined transactions revert
func (w *Wallet) RevertNext(revert bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.revert = revert
}

// SwitchChain changes the connected chain
func (w *Wallet) SwitchChain(chainID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chainID = chainID
}

// LastContext returns the context of the latest submission
func (w *Wallet) LastContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCtx
}

// Calls returns the submissions so far
func (w *Wallet) Calls() []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Call(nil), w.calls...)
}

// CallsOf counts submissions of one method
func (w *Wallet) CallsOf(method string) int {
	n := 0
	for _, c := range w.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (w *Wallet) Account() string {
	return w.account
}

func (w *Wallet) ChainID(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID, nil
}

func (w *Wallet) Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error) {
	w.mu.Lock()
	w.lastCtx = ctx
	if w.approveF != nil {
		err := w.approveF
		w.mu.Unlock()
		return "", err
	}
	hash := w.nextHash()
	call := Call{Method: "approve", Contract: token, Spender: spender, Amount: new(big.Int).Set(amount), Hash: hash}
	w.calls = append(w.calls, call)
	auto := w.AutoMine
	w.mu.Unlock()

	if auto {
		w.Mine(hash)
	}
	return hash, nil
}

func (w *Wallet) BuyProduct(ctx context.Context, paymentContract, productID string, amount *big.Int) (string, error) {
	w.mu.Lock()
	w.lastCtx = ctx
	if w.buyF != nil {
		err := w.buyF
		w.mu.Unlock()
		return "", err
	}
	hash := w.nextHash()
	call := Call{Method: "buyProduct", Contract: paymentContract, Product: productID, Amount: new(big.Int).Set(amount), Hash: hash}
	w.calls = append(w.calls, call)
	auto := w.AutoMine
	w.mu.Unlock()

	if auto {
		w.Mine(hash)
	}
	return hash, nil
}

// RegisterProduct records a registerProduct submission. Mining it only
// produces a receipt.
func (w *Wallet) RegisterProduct(ctx context.Context, paymentContract, productID string, price *big.Int) (string, error) {
	w.mu.Lock()
	hash := w.nextHash()
	w.calls = append(w.calls, Call{Method: "registerProduct", Contract: paymentContract, Product: productID, Amount: new(big.Int).Set(price), Hash: hash})
	auto := w.AutoMine
	w.mu.Unlock()

	if auto {
		w.Mine(hash)
	}
	return hash, nil
}

// Mine includes a submitted transaction in the next block and applies its effect
func (w *Wallet) Mine(hash string) {
	w.mu.Lock()
	var call *Call
	for i := range w.calls {
		if w.calls[i].Hash == hash {
			c := w.calls[i]
			call = &c
			break
		}
	}
	revert := w.revert
	w.mu.Unlock()

	if call == nil {
		panic(fmt.Sprintf("chainstest: unknown transaction %s", hash))
	}

	block := w.ledger.Head() + 1
	w.ledger.SetHead(block)

	receipt := &Receipt{Success: !revert, Block: block}
	if !revert {
		switch call.Method {
		case "approve":
			w.ledger.SetAllowance(call.Contract, w.account, call.Spender, call.Amount)
		case "buyProduct":
			receipt.Event = &types.PurchaseEvent{
				Buyer:     w.account,
				ProductID: call.Product,
				Amount:    new(big.Int).Set(call.Amount),
				Timestamp: block,
				Contract:  call.Contract,
			}
		}
	}
	w.ledger.SetReceipt(hash, receipt)
}

// nextHash must be called with mu held
func (w *Wallet) nextHash() string {
	w.nonce++
	return fmt.Sprintf("0x%064x", w.nonce)
}
