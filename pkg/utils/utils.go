package utils

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sigweihq/storepay/pkg/constants"
)

func CreateHTTPClientWithTimeouts(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = constants.HubTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
			ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
			ExpectContinueTimeout: constants.ExpectContinueTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // Disable redirects to prevent redirect-based SSRF
		},
	}
}

// ValidateServiceURL validates that a service URL is secure
// Returns error if URL doesn't use HTTPS (except for localhost/127.0.0.1 for testing)
func ValidateServiceURL(url string) error {
	if !strings.HasPrefix(url, "https://") {
		// Allow http://localhost and http://127.0.0.1 for testing
		if strings.HasPrefix(url, "http://localhost") ||
			strings.HasPrefix(url, "http://127.0.0.1") ||
			strings.HasPrefix(url, "http://[::1]") {
			return nil
		}
		return fmt.Errorf("service URL must use HTTPS: %s", url)
	}
	return nil
}

// ApplyPercent returns value * percent / 100, rounded down
func ApplyPercent(value *big.Int, percent int64) *big.Int {
	if value == nil {
		return nil
	}
	out := new(big.Int).Mul(value, big.NewInt(percent))
	return out.Quo(out, big.NewInt(100))
}

// WeiToGwei converts a wei amount to gwei
func WeiToGwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -constants.GweiDecimals)
}

// WeiToNative converts a wei amount to whole native currency units
func WeiToNative(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -constants.NativeDecimals)
}

// FormatAmount renders a decimal amount with a fixed number of places and a symbol
func FormatAmount(amount decimal.Decimal, places int32, symbol string) string {
	s := amount.StringFixed(places)
	if symbol == "" {
		return s
	}
	return s + " " + symbol
}

// ShortHash abbreviates a hash or address for display (0x1234…abcd)
func ShortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:6] + "…" + hash[len(hash)-4:]
}
