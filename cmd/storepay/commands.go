package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/sigweihq/storepay/pkg/allowance"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/chains/evm"
	"github.com/sigweihq/storepay/pkg/checkout"
	"github.com/sigweihq/storepay/pkg/constants"
	"github.com/sigweihq/storepay/pkg/gas"
	"github.com/sigweihq/storepay/pkg/hubclient"
	"github.com/sigweihq/storepay/pkg/ops"
	"github.com/sigweihq/storepay/pkg/txflow"
	"github.com/sigweihq/storepay/pkg/types"
	"github.com/sigweihq/storepay/pkg/utils"
)

func runGas(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("gas")
	network := fs.String("network", constants.NetworkBaseSepolia, "network name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	def, rpc, err := e.network(*network)
	if err != nil {
		return err
	}
	cfg, err := e.cfg.GasEstimatorConfig()
	if err != nil {
		return err
	}
	est, err := gas.NewEstimator(rpc, cfg, e.logger)
	if err != nil {
		return err
	}
	if err := est.Refresh(ctx); err != nil {
		return err
	}

	g := est.Estimate()
	fmt.Printf("network:   %s\n", def.DisplayName)
	fmt.Printf("gas price: %s gwei\n", g.GasPriceGwei.StringFixed(2))
	fmt.Printf("cost:      %s (~$%s)\n",
		utils.FormatAmount(g.EstimatedCostNative, 6, def.NativeCurrencySymbol),
		g.EstimatedCostFiat.StringFixed(2))
	return nil
}

func runAllowance(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("allowance")
	network := fs.String("network", constants.NetworkBaseSepolia, "network name")
	token := fs.String("token", constants.TokenUSDC, "token symbol")
	owner := fs.String("owner", "", "token owner address")
	amount := fs.String("amount", "0", "amount in major units to compare against")
	if err := fs.Parse(args); err != nil {
		return err
	}

	def, rpc, err := e.network(*network)
	if err != nil {
		return err
	}
	if err := ops.RequireAddresses(map[string]string{
		"owner":            *owner,
		"payment contract": def.PaymentContractAddress,
	}); err != nil {
		return err
	}
	ref, err := chains.TokenFor(def, *token)
	if err != nil {
		return err
	}
	major, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", *amount, err)
	}

	monitor := allowance.NewMonitor(rpc, allowance.Params{
		Token:   ref.ContractAddress,
		Owner:   *owner,
		Spender: def.PaymentContractAddress,
		Target:  ref.ToMinorUnits(major),
	}, e.logger)
	state, err := monitor.Refresh(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("allowance: %s\n", utils.FormatAmount(ref.ToMajorUnits(state.Allowance), int32(ref.DecimalPlaces), ref.Symbol))
	fmt.Printf("status:    %s\n", state.Status)
	return nil
}

func runCheckout(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("checkout")
	network := fs.String("network", constants.NetworkBaseSepolia, "network name")
	token := fs.String("token", constants.TokenUSDC, "token symbol")
	product := fs.String("product", "", "product id")
	amount := fs.String("amount", "", "price in major units, e.g. 249")
	orderID := fs.String("order", "", "order id to verify after purchase")
	mode := fs.String("approval", e.cfg.ApprovalMode, "approval mode: infinite or exact")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *product == "" || *amount == "" {
		fs.Usage()
		return flag.ErrHelp
	}

	key, err := ops.LoadSigner()
	if err != nil {
		return err
	}
	def, rpc, err := e.network(*network)
	if err != nil {
		return err
	}
	ref, err := chains.TokenFor(def, *token)
	if err != nil {
		return err
	}
	major, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", *amount, err)
	}
	if err := checkTokenMetadata(ctx, e, rpc, ref); err != nil {
		return err
	}
	gasCfg, err := e.cfg.GasEstimatorConfig()
	if err != nil {
		return err
	}

	wallet := evm.NewKeyWallet(key, rpc, evm.WithWalletLogger(e.logger))
	verifier, err := hubclient.NewFailoverVerifier(e.cfg.HubURLs(), constants.HubTimeout, e.logger)
	if err != nil {
		return err
	}

	session, err := checkout.New(types.PaymentIntent{
		OrderID:          *orderID,
		ProductID:        *product,
		Network:          def,
		Token:            ref,
		AmountMajorUnits: major,
	}, checkout.Deps{
		Ledger:   rpc,
		Wallet:   wallet,
		Networks: e.cfg.NetworkTable(),
	},
		checkout.WithLogger(e.logger),
		checkout.WithMetrics(e.metrics),
		checkout.WithVerifier(verifier),
		checkout.WithWatchConfig(e.cfg.TxWatchConfig()),
		checkout.WithApprovalMode(*mode),
		checkout.WithGasEstimator(gasCfg),
	)
	if err != nil {
		return err
	}
	defer session.Close()

	if !session.Snapshot().PaymentAvailable {
		return fmt.Errorf("payments with %s on %s are coming soon", ref.Symbol, def.DisplayName)
	}
	if err := session.Start(ctx); err != nil {
		return err
	}
	snap, err := waitFor(ctx, session, types.StatusNeedsApproval, types.StatusApproved)
	if err != nil {
		return err
	}

	if snap.Status == types.StatusNeedsApproval {
		if err := session.Authorize(ctx); err != nil {
			return err
		}
		if _, err := waitFor(ctx, session, types.StatusApproved); err != nil {
			return err
		}
	}

	if err := session.Purchase(ctx); err != nil {
		return err
	}
	snap, err = waitUntil(ctx, session, func(s checkout.Snapshot) bool {
		return s.Status == types.StatusSuccess && (s.Verification != nil || s.VerificationErr != nil)
	})
	if err != nil {
		return err
	}

	fmt.Printf("purchased %s for %s\n", *product, utils.FormatAmount(major, int32(ref.DecimalPlaces), ref.Symbol))
	fmt.Printf("tx:        %s\n", snap.TxHash)
	if snap.Purchase != nil && snap.Purchase.ExplorerURL != "" {
		fmt.Printf("explorer:  %s\n", snap.Purchase.ExplorerURL)
	}
	switch {
	case snap.VerificationErr != nil:
		fmt.Printf("verification failed: %v\n", snap.VerificationErr)
	case snap.Verification != nil:
		fmt.Printf("order %s: %s (verified=%t)\n", snap.Verification.OrderID, snap.Verification.Status, snap.Verification.Verified)
	}
	return nil
}

// waitFor blocks until the session reaches one of want, or fails
func waitFor(ctx context.Context, session *checkout.Orchestrator, want ...types.OrchestrationStatus) (checkout.Snapshot, error) {
	return waitUntil(ctx, session, func(s checkout.Snapshot) bool {
		for _, status := range want {
			if s.Status == status {
				return true
			}
		}
		return false
	})
}

// waitUntil blocks until done accepts the current snapshot, or the session fails
func waitUntil(ctx context.Context, session *checkout.Orchestrator, done func(checkout.Snapshot) bool) (checkout.Snapshot, error) {
	changed := make(chan struct{}, 1)
	unsub := session.Subscribe(func(checkout.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	for {
		snap := session.Snapshot()
		if done(snap) {
			return snap, nil
		}
		if snap.Status == types.StatusError {
			if snap.Purchase != nil && snap.Purchase.Hash != "" {
				return snap, fmt.Errorf("%s (tx %s): %w", snap.ErrorMessage, snap.Purchase.Hash, snap.Err)
			}
			return snap, fmt.Errorf("%s: %w", snap.ErrorMessage, snap.Err)
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}

// checkTokenMetadata compares the static token row against the chain
func checkTokenMetadata(ctx context.Context, e *env, rpc *evm.RPCClient, ref types.TokenRef) error {
	onChain, err := rpc.TokenMetadata(ctx, ref.ContractAddress)
	if err != nil {
		e.logger.Warn("token metadata unavailable", "token", ref.Symbol, "error", err)
		return nil
	}
	if onChain.DecimalPlaces != ref.DecimalPlaces {
		return fmt.Errorf("token %s has %d decimals on chain, configured %d", ref.Symbol, onChain.DecimalPlaces, ref.DecimalPlaces)
	}
	if !strings.EqualFold(onChain.Symbol, ref.Symbol) {
		e.logger.Warn("token symbol differs from chain", "configured", ref.Symbol, "onChain", onChain.Symbol)
	}
	return nil
}

func runRegisterProduct(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("register-product")
	network := fs.String("network", constants.NetworkBaseSepolia, "network name")
	token := fs.String("token", constants.TokenUSDC, "token the price is denominated in")
	product := fs.String("product", "", "product id")
	price := fs.String("price", "", "price in major units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *product == "" || *price == "" {
		fs.Usage()
		return flag.ErrHelp
	}

	key, err := ops.LoadSigner()
	if err != nil {
		return err
	}
	def, rpc, err := e.network(*network)
	if err != nil {
		return err
	}
	ref, err := chains.TokenFor(def, *token)
	if err != nil {
		return err
	}
	major, err := decimal.NewFromString(*price)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", *price, err)
	}

	bid, err := ops.GasPriceWithMargin(ctx, rpc)
	if err != nil {
		return err
	}
	e.logger.Info("bidding gas price", "gwei", utils.WeiToGwei(bid).StringFixed(3))

	wallet := evm.NewKeyWallet(key, rpc,
		evm.WithGasPriceMargin(constants.GasPriceMarginPercent),
		evm.WithWalletLogger(e.logger))
	watcher := txflow.NewWatcher(rpc, e.cfg.TxWatchConfig(), e.logger)

	record, err := ops.RegisterProduct(ctx, wallet, watcher, ops.RegisterParams{
		Network:   def,
		Token:     ref,
		ProductID: *product,
		Price:     major,
	}, e.logger)
	if err != nil {
		if record.Hash != "" {
			return fmt.Errorf("registration %s: %w", record.Hash, err)
		}
		return err
	}

	fmt.Printf("registered %s at %s\n", *product, utils.FormatAmount(major, int32(ref.DecimalPlaces), ref.Symbol))
	fmt.Printf("tx:    %s (block %d)\n", record.Hash, record.BlockNumber)
	if record.ExplorerURL != "" {
		fmt.Printf("explorer: %s\n", record.ExplorerURL)
	}
	return nil
}

func runVerifyTx(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("verify-tx")
	network := fs.String("network", constants.NetworkBaseSepolia, "network name")
	txHash := fs.String("tx", "", "purchase transaction hash")
	product := fs.String("product", "", "expected product id")
	buyer := fs.String("buyer", "", "expected buyer address (optional)")
	token := fs.String("token", constants.TokenUSDC, "token symbol for -amount")
	amount := fs.String("amount", "", "expected amount in major units (optional)")
	orderID := fs.String("order", "", "order id to verify with the hub (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *txHash == "" || *product == "" {
		fs.Usage()
		return flag.ErrHelp
	}

	def, rpc, err := e.network(*network)
	if err != nil {
		return err
	}
	validator := evm.NewPurchaseValidator()
	hash, err := validator.NormalizeTxHash(*txHash)
	if err != nil {
		return err
	}

	expected := evm.PurchaseExpectation{
		Buyer:           *buyer,
		ProductID:       *product,
		PaymentContract: def.PaymentContractAddress,
	}
	if *amount != "" {
		ref, err := chains.TokenFor(def, *token)
		if err != nil {
			return err
		}
		major, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", *amount, err)
		}
		expected.Amount = ref.ToMinorUnits(major)
	}

	receipt, err := rpc.TransactionReceipt(ctx, hash)
	if err != nil {
		return err
	}
	if err := validator.ValidatePurchase(receipt, expected); err != nil {
		return err
	}
	event, _ := receipt.GetPurchaseEvent()
	fmt.Printf("purchase ok: product %s by %s in block %d\n", event.ProductID, event.Buyer, receipt.BlockNumber())

	if *orderID == "" {
		return nil
	}
	verifier, err := hubclient.NewFailoverVerifier(e.cfg.HubURLs(), constants.HubTimeout, e.logger)
	if err != nil {
		return err
	}
	resp, err := verifier.Verify(ctx, types.VerifyRequest{OrderID: *orderID, TxHash: hash, ChainID: def.ChainID})
	if err != nil {
		return err
	}
	fmt.Printf("order %s: %s (verified=%t)\n", resp.OrderID, resp.Status, resp.Verified)
	if resp.Error != nil {
		fmt.Fprintf(os.Stderr, "hub: %s\n", *resp.Error)
	}

	// the hub's stored order is authoritative after hand-off
	hub, err := e.hubSession(ctx, false)
	if err != nil {
		return err
	}
	defer e.endHubSession(hub)
	order, err := hub.Orders.Get(ctx, resp.OrderID)
	if err != nil {
		e.logger.Warn("failed to read order after verification", "order", resp.OrderID, "error", err)
		return nil
	}
	printOrder(order)
	for _, ev := range order.History {
		line := fmt.Sprintf("  %s  %s", ev.CreatedAt.Format(time.RFC3339), ev.Status)
		if ev.TxHash != "" {
			line += "  " + ev.TxHash
		}
		if ev.Note != "" {
			line += "  (" + ev.Note + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func runOrders(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("orders")
	network := fs.String("network", "", "only orders on this network (optional)")
	status := fs.String("status", "", "only orders in this status, e.g. paid (optional)")
	limit := fs.Int("limit", 20, "maximum number of orders, 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 0 {
		return fmt.Errorf("limit must be non-negative, got %d", *limit)
	}

	params := types.OrderListParams{Status: *status}
	if *network != "" {
		def, ok := e.cfg.NetworkTable().LookupByName(*network)
		if !ok {
			return fmt.Errorf("unknown network %q", *network)
		}
		params.ChainID = def.ChainID
	}

	hub, err := e.hubSession(ctx, true)
	if err != nil {
		return err
	}
	defer e.endHubSession(hub)

	buyer, err := hub.Auth.Me(ctx)
	if err != nil {
		return err
	}
	orders, err := hub.Orders.All(ctx, params, *limit)
	if err != nil {
		return err
	}

	fmt.Printf("%d orders for %s\n", len(orders), buyer.WalletAddress)
	for _, order := range orders {
		printOrder(order)
	}
	return nil
}

func printOrder(order *types.Order) {
	line := fmt.Sprintf("%s  %-8s  product %s  amount %s  chain %d", order.ID, order.Status, order.ProductID, order.Amount, order.ChainID)
	if order.TransactionHash != nil {
		line += "  tx " + *order.TransactionHash
	}
	fmt.Println(line)
}

// hubSession returns a client for the primary hub, signed in with the
// configured key. Without a key the client stays anonymous unless
// requireSigner is set.
func (e *env) hubSession(ctx context.Context, requireSigner bool) (*hubclient.HubClient, error) {
	hub := hubclient.NewHubClient(&hubclient.Config{URL: e.cfg.HubURL, Timeout: constants.HubTimeout})

	key, err := ops.LoadSigner()
	switch {
	case errors.Is(err, ops.ErrMissingSigner) && !requireSigner:
		return hub, nil
	case err != nil:
		return nil, err
	}
	if _, err := hub.Auth.LoginWithKey(ctx, key); err != nil {
		return nil, err
	}
	e.logger.Debug("signed in to order service", "buyer", crypto.PubkeyToAddress(key.PublicKey).Hex())
	return hub, nil
}

func (e *env) endHubSession(hub *hubclient.HubClient) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.HubTimeout)
	defer cancel()
	if err := hub.Auth.Logout(ctx); err != nil {
		e.logger.Warn("failed to sign out of order service", "error", err)
	}
}
