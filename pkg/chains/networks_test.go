package chains

import (
	"testing"

	"github.com/sigweihq/storepay/pkg/constants"
	"github.com/sigweihq/storepay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNetworkTable(t *testing.T) {
	table := DefaultNetworkTable()

	base, ok := table.Lookup(8453)
	require.True(t, ok)
	assert.Equal(t, constants.NetworkBase, base.Name)
	assert.Equal(t, "ETH", base.NativeCurrencySymbol)
	assert.Equal(t, constants.NetworkToUSDCAddress[constants.NetworkBase], base.USDCAddress)

	_, ok = table.Lookup(999999)
	assert.False(t, ok)

	all := table.All()
	assert.Len(t, all, len(constants.NetworkToChainID))
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ChainID, all[i].ChainID)
	}
}

func TestNetworkTableWith(t *testing.T) {
	table := DefaultNetworkTable()
	base, _ := table.LookupByName(constants.NetworkBase)

	base.PaymentContractAddress = "0x00000000000000000000000000000000000000aa"
	base.IsDeployed = true
	updated := table.With(base)

	got, ok := updated.Lookup(8453)
	require.True(t, ok)
	assert.True(t, got.IsDeployed)

	original, _ := table.Lookup(8453)
	assert.False(t, original.IsDeployed, "With must not mutate the receiver")
}

func TestPaymentAvailable(t *testing.T) {
	deployed := types.NetworkDefinition{
		Name:                   "base",
		PaymentContractAddress: "0x00000000000000000000000000000000000000aa",
		USDCAddress:            "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		IsDeployed:             true,
	}

	tests := []struct {
		name     string
		mutate   func(d *types.NetworkDefinition)
		token    string
		expected bool
	}{
		{name: "deployed with token", token: "USDC", expected: true},
		{name: "token missing on network", token: "USDT", expected: false},
		{name: "not flagged deployed", token: "USDC", mutate: func(d *types.NetworkDefinition) { d.IsDeployed = false }, expected: false},
		{name: "flagged but no contract", token: "USDC", mutate: func(d *types.NetworkDefinition) { d.PaymentContractAddress = "" }, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := deployed
			if tt.mutate != nil {
				tt.mutate(&def)
			}
			assert.Equal(t, tt.expected, PaymentAvailable(def, tt.token))
		})
	}
}

func TestTokenFor(t *testing.T) {
	table := DefaultNetworkTable()

	base, _ := table.LookupByName(constants.NetworkBase)
	token, err := TokenFor(base, "usdc")
	require.NoError(t, err)
	assert.Equal(t, "USDC", token.Symbol)
	assert.Equal(t, uint8(6), token.DecimalPlaces)

	bsc, _ := table.LookupByName(constants.NetworkBSC)
	token, err = TokenFor(bsc, "USDT")
	require.NoError(t, err)
	assert.Equal(t, uint8(18), token.DecimalPlaces)

	sepolia, _ := table.LookupByName(constants.NetworkSepolia)
	_, err = TokenFor(sepolia, "USDT")
	assert.Error(t, err)
}
