package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sigweihq/storepay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestShouldTryNextHub(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "HTTP 500", err: &HTTPError{StatusCode: http.StatusInternalServerError}, expected: true},
		{name: "HTTP 503 wrapped", err: fmt.Errorf("failed to verify order: %w", &HTTPError{StatusCode: http.StatusServiceUnavailable}), expected: true},
		{name: "HTTP 401", err: &HTTPError{StatusCode: http.StatusUnauthorized}, expected: true},
		{name: "HTTP 400", err: &HTTPError{StatusCode: http.StatusBadRequest}, expected: false},
		{name: "HTTP 404", err: &HTTPError{StatusCode: http.StatusNotFound}, expected: false},
		{name: "HTTP 422", err: &HTTPError{StatusCode: http.StatusUnprocessableEntity}, expected: false},
		{name: "net timeout", err: fmt.Errorf("request failed: %w", timeoutError{}), expected: true},
		{name: "deadline exceeded", err: fmt.Errorf("request failed: %w", context.DeadlineExceeded), expected: true},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), expected: true},
		{name: "no such host", err: errors.New("lookup hub.invalid: no such host"), expected: true},
		{name: "validation error", err: errors.New("verify: transaction hash is required"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, shouldTryNextHub(tt.err))
		})
	}
}

func verifyServer(t *testing.T, status int, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.WriteHeader(status)
		if status == http.StatusOK {
			json.NewEncoder(w).Encode(types.VerifyResponse{OrderID: "ord_1", Status: "paid", Verified: true})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(status)})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFailoverVerifier_Verify(t *testing.T) {
	req := types.VerifyRequest{OrderID: "ord_1", TxHash: "0xabc", ChainID: 8453}

	tests := []struct {
		name         string
		statuses     []int
		expectedHits []int32
		wantErr      string
	}{
		{
			name:         "first hub answers",
			statuses:     []int{http.StatusOK, http.StatusOK},
			expectedHits: []int32{1, 0},
		},
		{
			name:         "fails over on server error",
			statuses:     []int{http.StatusBadGateway, http.StatusOK},
			expectedHits: []int32{1, 1},
		},
		{
			name:         "stops on client error",
			statuses:     []int{http.StatusUnprocessableEntity, http.StatusOK},
			expectedHits: []int32{1, 0},
			wantErr:      "failed to verify order",
		},
		{
			name:         "all hubs down",
			statuses:     []int{http.StatusServiceUnavailable, http.StatusInternalServerError},
			expectedHits: []int32{1, 1},
			wantErr:      "all hubs failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := make([]int32, len(tt.statuses))
			urls := make([]string, len(tt.statuses))
			for i, status := range tt.statuses {
				urls[i] = verifyServer(t, status, &hits[i]).URL
			}

			v, err := NewFailoverVerifier(urls, 5*time.Second, nil)
			require.NoError(t, err)
			require.Len(t, v.Hubs(), len(urls))

			resp, err := v.Verify(context.Background(), req)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, resp)
			} else {
				require.NoError(t, err)
				assert.True(t, resp.Verified)
			}
			for i := range hits {
				assert.Equal(t, tt.expectedHits[i], atomic.LoadInt32(&hits[i]), "hub %d", i)
			}
		})
	}
}

func TestFailoverVerifier_StopsOnCallerCancel(t *testing.T) {
	var hits [2]int32
	first := verifyServer(t, http.StatusServiceUnavailable, &hits[0])
	second := verifyServer(t, http.StatusOK, &hits[1])

	v, err := NewFailoverVerifier([]string{first.URL, second.URL}, 5*time.Second, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = v.Verify(ctx, types.VerifyRequest{TxHash: "0xabc", ChainID: 8453})
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits[1]))
}

func TestNewFailoverVerifier_RequiresURLs(t *testing.T) {
	_, err := NewFailoverVerifier(nil, time.Second, nil)
	assert.Error(t, err)
}
