package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRef_ToMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		decimals uint8
		amount   string
		expected string
	}{
		{name: "six decimal stablecoin", decimals: 6, amount: "249", expected: "249000000"},
		{name: "fractional amount", decimals: 6, amount: "19.99", expected: "19990000"},
		{name: "eighteen decimals", decimals: 18, amount: "1.5", expected: "1500000000000000000"},
		{name: "zero", decimals: 6, amount: "0", expected: "0"},
		{name: "sub minor unit is truncated", decimals: 6, amount: "0.0000019", expected: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := TokenRef{Symbol: "USDC", DecimalPlaces: tt.decimals}
			got := token.ToMinorUnits(decimal.RequireFromString(tt.amount))
			assert.Equal(t, tt.expected, got.String())
		})
	}
}

func TestTokenRef_ToMajorUnits(t *testing.T) {
	token := TokenRef{Symbol: "USDC", DecimalPlaces: 6}

	assert.True(t, token.ToMajorUnits(big.NewInt(249000000)).Equal(decimal.NewFromInt(249)))
	assert.True(t, token.ToMajorUnits(nil).IsZero())
}

func TestAllowance_Covers(t *testing.T) {
	tests := []struct {
		name     string
		amount   *big.Int
		target   *big.Int
		expected bool
	}{
		{name: "zero target is vacuously covered", amount: nil, target: big.NewInt(0), expected: true},
		{name: "negative target is covered", amount: big.NewInt(0), target: big.NewInt(-5), expected: true},
		{name: "nil target is covered", amount: nil, target: nil, expected: true},
		{name: "unknown allowance does not cover", amount: nil, target: big.NewInt(1), expected: false},
		{name: "equal covers", amount: big.NewInt(100), target: big.NewInt(100), expected: true},
		{name: "greater covers", amount: big.NewInt(101), target: big.NewInt(100), expected: true},
		{name: "smaller does not cover", amount: big.NewInt(99), target: big.NewInt(100), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Allowance{Amount: tt.amount}
			assert.Equal(t, tt.expected, a.Covers(tt.target))
		})
	}
}

func TestNetworkDefinition_TokenAddress(t *testing.T) {
	def := NetworkDefinition{
		Name:        "base",
		USDCAddress: "0xusdc",
		USDTAddress: "0xusdt",
	}

	assert.Equal(t, "0xusdc", def.TokenAddress("USDC"))
	assert.Equal(t, "0xusdt", def.TokenAddress("usdt"))
	assert.Equal(t, "", def.TokenAddress("DAI"))
}

func TestNetworkDefinition_TxExplorerURL(t *testing.T) {
	def := NetworkDefinition{ExplorerURL: "https://basescan.org/"}
	assert.Equal(t, "https://basescan.org/tx/0xabc", def.TxExplorerURL("0xabc"))
	assert.Equal(t, "", def.TxExplorerURL(""))
	assert.Equal(t, "", NetworkDefinition{}.TxExplorerURL("0xabc"))
}

func TestPaymentIntent_AmountMinorUnits(t *testing.T) {
	intent := PaymentIntent{
		ProductID:        "pro-plan",
		Token:            TokenRef{Symbol: "USDC", DecimalPlaces: 6},
		AmountMajorUnits: decimal.NewFromInt(249),
	}
	assert.Equal(t, big.NewInt(249000000), intent.AmountMinorUnits())
}

func TestGasEstimate_LoadedAndStale(t *testing.T) {
	var never GasEstimate
	assert.False(t, never.Loaded())
	assert.False(t, never.Stale())

	never.Error = "boom"
	assert.False(t, never.Stale(), "an estimate that never loaded is not stale")
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusApproved.IsTerminal())

	assert.True(t, TxStatusConfirmed.IsTerminal())
	assert.True(t, TxStatusReverted.IsTerminal())
	assert.False(t, TxStatusConfirming.IsTerminal())
}

func TestTransactionRecord_JSON(t *testing.T) {
	rec := TransactionRecord{Hash: "0xabc", Kind: TxKindPurchase, Status: TxStatusPending, ChainID: 8453}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"purchase"`)
	assert.Contains(t, string(data), `"status":"pending"`)
	assert.NotContains(t, string(data), "blockNumber")
}
