// Package config loads storepay settings from an optional YAML file, a
// .env file and STOREPAY_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sigweihq/storepay/pkg/chains"
	"github.com/sigweihq/storepay/pkg/constants"
	"github.com/sigweihq/storepay/pkg/gas"
	"github.com/sigweihq/storepay/pkg/hubclient"
	"github.com/sigweihq/storepay/pkg/txflow"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load
const (
	EnvLogLevel     = "STOREPAY_LOG_LEVEL"
	EnvHubURL       = "STOREPAY_HUB_URL"
	EnvHubFallbacks = "STOREPAY_HUB_FALLBACK_URLS" // comma separated
	EnvApprovalMode = "STOREPAY_APPROVAL_MODE"
	EnvMetricsAddr  = "STOREPAY_METRICS_ADDR"
	EnvRPCPrefix    = "STOREPAY_RPC_" // STOREPAY_RPC_BASE_SEPOLIA=https://a,https://b
)

// Config is the full storepay configuration
type Config struct {
	LogLevel     string                     `yaml:"log_level" validate:"oneof=debug info warn error"`
	HubURL       string                     `yaml:"hub_url" validate:"required,url"`
	HubFallbacks []string                   `yaml:"hub_fallback_urls" validate:"dive,url"`
	RPCEndpoints map[string][]string        `yaml:"rpc_endpoints" validate:"dive,dive,url"`
	Networks     map[string]NetworkOverride `yaml:"networks" validate:"dive"`
	Gas          GasConfig                  `yaml:"gas"`
	Watch        WatchConfig                `yaml:"watch"`
	ApprovalMode string                     `yaml:"approval_mode" validate:"oneof=infinite exact"`
	MetricsAddr  string                     `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// NetworkOverride replaces deployment data of one row of the network table
type NetworkOverride struct {
	PaymentContractAddress string `yaml:"payment_contract_address" validate:"omitempty,eth_addr"`
	IsDeployed             *bool  `yaml:"is_deployed"`
}

// GasConfig is the YAML form of gas.Config
type GasConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" validate:"gt=0"`
	GasUnits        uint64        `yaml:"gas_units" validate:"gt=0"`
	NativeFiatPrice string        `yaml:"native_fiat_price" validate:"required,numeric"`
}

// WatchConfig is the YAML form of txflow.WatchConfig
type WatchConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" validate:"gt=0"`
	MaxPollInterval time.Duration `yaml:"max_poll_interval" validate:"gtefield=PollInterval"`
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	Confirmations   uint64        `yaml:"confirmations" validate:"gte=1"`
}

var validate = validator.New()

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HubURL:   hubclient.DefaultHubURL,
		Gas: GasConfig{
			PollInterval:    constants.GasPollInterval,
			GasUnits:        constants.ReferenceGasUnits,
			NativeFiatPrice: constants.ReferenceNativeFiatUSD,
		},
		Watch: WatchConfig{
			PollInterval:    constants.ReceiptPollInterval,
			MaxPollInterval: constants.ReceiptMaxPollInterval,
			Timeout:         constants.ReceiptWatchTimeout,
			Confirmations:   constants.DefaultConfirmations,
		},
		ApprovalMode: constants.ApprovalModeInfinite,
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(os.Environ())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// applyEnv overlays STOREPAY_* variables given as KEY=VALUE pairs
func (c *Config) applyEnv(environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		switch key {
		case EnvLogLevel:
			c.LogLevel = strings.ToLower(value)
		case EnvHubURL:
			c.HubURL = value
		case EnvHubFallbacks:
			c.HubFallbacks = splitList(value)
		case EnvApprovalMode:
			c.ApprovalMode = strings.ToLower(value)
		case EnvMetricsAddr:
			c.MetricsAddr = value
		default:
			if !strings.HasPrefix(key, EnvRPCPrefix) {
				continue
			}
			network := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvRPCPrefix)), "_", "-")
			if c.RPCEndpoints == nil {
				c.RPCEndpoints = make(map[string][]string)
			}
			c.RPCEndpoints[network] = splitList(value)
		}
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks field constraints and that every network name is known
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name := range c.RPCEndpoints {
		if _, ok := constants.NetworkToChainID[name]; !ok {
			return fmt.Errorf("invalid config: rpc_endpoints: unknown network %q", name)
		}
	}
	for name := range c.Networks {
		if _, ok := constants.NetworkToChainID[name]; !ok {
			return fmt.Errorf("invalid config: networks: unknown network %q", name)
		}
	}
	return nil
}

// GasEstimatorConfig converts the gas section
func (c *Config) GasEstimatorConfig() (gas.Config, error) {
	price, err := decimal.NewFromString(c.Gas.NativeFiatPrice)
	if err != nil {
		return gas.Config{}, fmt.Errorf("invalid native_fiat_price: %w", err)
	}
	cfg := gas.Config{
		PollInterval:    c.Gas.PollInterval,
		GasUnits:        c.Gas.GasUnits,
		NativeFiatPrice: price,
	}
	return cfg, cfg.Validate()
}

// TxWatchConfig converts the watch section
func (c *Config) TxWatchConfig() txflow.WatchConfig {
	return txflow.WatchConfig{
		PollInterval:    c.Watch.PollInterval,
		MaxPollInterval: c.Watch.MaxPollInterval,
		Timeout:         c.Watch.Timeout,
		Confirmations:   c.Watch.Confirmations,
	}
}

// NetworkTable returns the static network table with overrides applied
func (c *Config) NetworkTable() *chains.NetworkTable {
	table := chains.DefaultNetworkTable()
	for name, override := range c.Networks {
		def, ok := table.LookupByName(name)
		if !ok {
			continue
		}
		if override.PaymentContractAddress != "" {
			def.PaymentContractAddress = override.PaymentContractAddress
		}
		if override.IsDeployed != nil {
			def.IsDeployed = *override.IsDeployed
		}
		table = table.With(def)
	}
	return table
}

// HubURLs returns the primary hub followed by the fallbacks
func (c *Config) HubURLs() []string {
	return append([]string{c.HubURL}, c.HubFallbacks...)
}

// SlogLevel maps LogLevel to a slog level
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Endpoints returns the configured RPC endpoints for a network, falling
// back to the official ones
func (c *Config) Endpoints(network string) []string {
	if eps := c.RPCEndpoints[network]; len(eps) > 0 {
		return eps
	}
	return constants.OfficialRPCEndpoints[network]
}
