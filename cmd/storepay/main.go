// Command storepay is the operator CLI for on-chain store payments: gas
// estimates, allowance reads, a scripted checkout, product registration and
// purchase verification with order lookups.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sigweihq/storepay/pkg/chains/evm"
	"github.com/sigweihq/storepay/pkg/config"
	"github.com/sigweihq/storepay/pkg/metrics"
	"github.com/sigweihq/storepay/pkg/ops"
	"github.com/sigweihq/storepay/pkg/types"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"gas", "print the current gas estimate for a network", runGas},
	{"allowance", "read the token allowance of an owner for the payment contract", runAllowance},
	{"checkout", "approve if needed, buy a product and verify the order", runCheckout},
	{"register-product", "register a product price on the payment contract", runRegisterProduct},
	{"verify-tx", "check a purchase receipt and optionally verify it with the hub", runVerifyTx},
	{"orders", "list the signer's orders from the hub", runOrders},
}

// env is what every command shares
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics metrics.Recorder
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: storepay [-config file] <command> [flags]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-17s %s\n", c.name, c.summary)
	}
}

func main() {
	configPath := flag.String("config", "", "YAML config file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == flag.Arg(0) {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := &env{cfg: cfg, logger: logger, metrics: metrics.NoopRecorder{}}
	if cfg.MetricsAddr != "" {
		rec, shutdown, err := serveMetrics(cfg.MetricsAddr, logger)
		if err != nil {
			logger.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer shutdown()
		e.metrics = rec
	}

	if err := cmd.run(ctx, e, flag.Args()[1:]); err != nil {
		switch {
		case errors.Is(err, ops.ErrMissingSigner):
			logger.Error("no signer configured", "error", err, "hint", "set "+ops.EnvPrivateKey+" in the environment or .env")
		case errors.Is(err, ops.ErrMissingAddress):
			logger.Error("missing address", "error", err)
		case errors.Is(err, flag.ErrHelp):
			os.Exit(2)
		default:
			logger.Error(cmd.name+" failed", "error", err)
		}
		stop()
		os.Exit(1)
	}
}

func serveMetrics(addr string, logger *slog.Logger) (metrics.Recorder, func(), error) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return rec, shutdown, nil
}

// network resolves a network row with config overrides and an RPC client on
// the configured endpoints
func (e *env) network(name string) (types.NetworkDefinition, *evm.RPCClient, error) {
	def, ok := e.cfg.NetworkTable().LookupByName(name)
	if !ok {
		return types.NetworkDefinition{}, nil, fmt.Errorf("unknown network %q", name)
	}
	endpoints := e.cfg.Endpoints(def.Name)
	if len(endpoints) == 0 {
		return def, nil, fmt.Errorf("no RPC endpoints for %s", def.Name)
	}
	return def, evm.NewRPCClient(def.Name, def.ChainID, endpoints).WithLogger(e.logger), nil
}

// newFlagSet returns a flag set that reports parse errors instead of exiting
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}
