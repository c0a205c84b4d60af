package utils

import (
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sigweihq/storepay/pkg/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPercent(t *testing.T) {
	tests := []struct {
		name     string
		value    *big.Int
		percent  int64
		expected *big.Int
	}{
		{name: "110 percent", value: big.NewInt(1_000_000_000), percent: 110, expected: big.NewInt(1_100_000_000)},
		{name: "rounds down", value: big.NewInt(15), percent: 110, expected: big.NewInt(16)},
		{name: "identity", value: big.NewInt(42), percent: 100, expected: big.NewInt(42)},
		{name: "zero", value: big.NewInt(0), percent: 110, expected: big.NewInt(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0, tt.expected.Cmp(ApplyPercent(tt.value, tt.percent)))
		})
	}

	assert.Nil(t, ApplyPercent(nil, 110))
}

func TestApplyPercent_DoesNotMutateInput(t *testing.T) {
	in := big.NewInt(100)
	_ = ApplyPercent(in, 110)
	assert.Equal(t, int64(100), in.Int64())
}

func TestWeiConversions(t *testing.T) {
	wei := big.NewInt(1_500_000_000) // 1.5 gwei

	assert.True(t, decimal.RequireFromString("1.5").Equal(WeiToGwei(wei)))
	assert.True(t, decimal.RequireFromString("0.0000000015").Equal(WeiToNative(wei)))
	assert.True(t, WeiToGwei(nil).IsZero())
	assert.True(t, WeiToNative(nil).IsZero())

	oneEther, ok := new(big.Int).SetString("1000000000000000000", 10)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(1).Equal(WeiToNative(oneEther)))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "249.00 USDC", FormatAmount(decimal.NewFromInt(249), 2, "USDC"))
	assert.Equal(t, "0.000150", FormatAmount(decimal.RequireFromString("0.00015"), 6, ""))
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "0x1234…cdef", ShortHash("0x1234567890abcdef1234567890abcdef"))
	assert.Equal(t, "0x12", ShortHash("0x12"))
}

func TestCreateHTTPClientWithTimeouts(t *testing.T) {
	client := CreateHTTPClientWithTimeouts(5 * time.Second)
	assert.Equal(t, 5*time.Second, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, constants.TLSHandshakeTimeout, transport.TLSHandshakeTimeout)
	assert.Equal(t, constants.ResponseHeaderTimeout, transport.ResponseHeaderTimeout)

	req, err := http.NewRequest(http.MethodGet, "https://example.com", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, client.CheckRedirect(req, nil), http.ErrUseLastResponse)

	assert.Equal(t, constants.HubTimeout, CreateHTTPClientWithTimeouts(0).Timeout)
}
