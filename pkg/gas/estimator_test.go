package gas

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sigweihq/storepay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource returns queued results, repeating the last one
type scriptedSource struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	price *big.Int
	err   error
}

func (s *scriptedSource) SuggestGasPrice(context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].price, s.results[i].err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testConfig() Config {
	return Config{
		PollInterval:    time.Hour,
		GasUnits:        100_000,
		NativeFiatPrice: decimal.NewFromInt(2500),
	}
}

func TestEstimator_Refresh(t *testing.T) {
	src := &scriptedSource{results: []result{{price: big.NewInt(20_000_000_000)}}} // 20 gwei
	est, err := NewEstimator(src, testConfig(), nil)
	require.NoError(t, err)

	assert.False(t, est.Estimate().Loaded(), "never loaded before first fetch")

	require.NoError(t, est.Refresh(context.Background()))

	g := est.Estimate()
	assert.True(t, g.Loaded())
	assert.False(t, g.Loading)
	assert.Empty(t, g.Error)
	assert.True(t, decimal.NewFromInt(20).Equal(g.GasPriceGwei))
	// 20 gwei * 100,000 = 0.002 native
	assert.True(t, decimal.RequireFromString("0.002").Equal(g.EstimatedCostNative), g.EstimatedCostNative.String())
	assert.True(t, decimal.NewFromInt(5).Equal(g.EstimatedCostFiat), g.EstimatedCostFiat.String())
}

func TestEstimator_FailureKeepsStaleValues(t *testing.T) {
	src := &scriptedSource{results: []result{
		{price: big.NewInt(1_000_000_000)},
		{err: errors.New("network unreachable")},
	}}
	est, err := NewEstimator(src, testConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, est.Refresh(context.Background()))
	before := est.Estimate()

	err = est.Refresh(context.Background())
	require.Error(t, err)

	after := est.Estimate()
	assert.Equal(t, "network unreachable", after.Error)
	assert.True(t, after.Stale())
	assert.False(t, after.Loading)
	assert.True(t, before.EstimatedCostNative.Equal(after.EstimatedCostNative))
	assert.False(t, after.EstimatedCostNative.IsZero())
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestEstimator_FailureBeforeFirstLoad(t *testing.T) {
	src := &scriptedSource{results: []result{{err: errors.New("timeout")}}}
	est, err := NewEstimator(src, testConfig(), nil)
	require.NoError(t, err)

	require.Error(t, est.Refresh(context.Background()))

	g := est.Estimate()
	assert.False(t, g.Loaded())
	assert.False(t, g.Stale())
	assert.Equal(t, "timeout", g.Error)
}

func TestEstimator_ErrorClearedOnRecovery(t *testing.T) {
	src := &scriptedSource{results: []result{
		{err: errors.New("boom")},
		{price: big.NewInt(1_000_000_000)},
	}}
	est, err := NewEstimator(src, testConfig(), nil)
	require.NoError(t, err)

	_ = est.Refresh(context.Background())
	require.NoError(t, est.Refresh(context.Background()))
	assert.Empty(t, est.Estimate().Error)
}

func TestEstimator_SubscribeSeesLoadingThenValue(t *testing.T) {
	src := &scriptedSource{results: []result{{price: big.NewInt(1_000_000_000)}}}
	est, err := NewEstimator(src, testConfig(), nil)
	require.NoError(t, err)

	var seen []types.GasEstimate
	unsub := est.Subscribe(func(g types.GasEstimate) { seen = append(seen, g) })

	require.NoError(t, est.Refresh(context.Background()))
	require.Len(t, seen, 2)
	assert.True(t, seen[0].Loading)
	assert.False(t, seen[1].Loading)
	assert.True(t, seen[1].Loaded())

	unsub()
	require.NoError(t, est.Refresh(context.Background()))
	assert.Len(t, seen, 2)
}

func TestEstimator_StartStop(t *testing.T) {
	src := &scriptedSource{results: []result{{price: big.NewInt(1_000_000_000)}}}
	cfg := testConfig()
	cfg.PollInterval = 10 * time.Millisecond

	est, err := NewEstimator(src, cfg, nil)
	require.NoError(t, err)

	est.Start(context.Background())
	est.Start(context.Background()) // no-op while running

	assert.Eventually(t, func() bool { return src.Calls() >= 3 }, time.Second, 5*time.Millisecond)

	est.Stop()
	calls := src.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.Calls(), "no polling after Stop")

	est.Stop() // idempotent
}

func TestEstimator_StopsWithContext(t *testing.T) {
	src := &scriptedSource{results: []result{{price: big.NewInt(1)}}}
	cfg := testConfig()
	cfg.PollInterval = 5 * time.Millisecond

	est, err := NewEstimator(src, cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	est.Start(ctx)
	assert.Eventually(t, func() bool { return src.Calls() >= 1 }, time.Second, time.Millisecond)
	cancel()

	// Stop still returns once the loop has observed the cancellation
	est.Stop()
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero interval", mutate: func(c *Config) { c.PollInterval = 0 }},
		{name: "zero gas units", mutate: func(c *Config) { c.GasUnits = 0 }},
		{name: "negative price", mutate: func(c *Config) { c.NativeFiatPrice = decimal.NewFromInt(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := NewEstimator(&scriptedSource{results: []result{{price: big.NewInt(1)}}}, cfg, nil)
			assert.Error(t, err)
		})
	}

	_, err := NewEstimator(nil, DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, uint64(100_000), cfg.GasUnits)
	assert.True(t, decimal.NewFromInt(2500).Equal(cfg.NativeFiatPrice))
}
