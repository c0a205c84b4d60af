package hubclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sigweihq/storepay/pkg/types"
)

// FailoverVerifier hands a purchase to the first hub that answers. It moves
// on to the next hub only for infrastructure failures; a hub that rejects
// the request ends the attempt.
type FailoverVerifier struct {
	hubs   []*HubClient
	logger *slog.Logger
}

// NewFailoverVerifier creates one hub client per URL, in priority order
func NewFailoverVerifier(urls []string, timeout time.Duration, logger *slog.Logger) (*FailoverVerifier, error) {
	if len(urls) == 0 {
		return nil, errors.New("no hub URLs configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	v := &FailoverVerifier{logger: logger}
	for _, u := range urls {
		v.hubs = append(v.hubs, NewHubClient(&Config{URL: u, Timeout: timeout}))
	}
	return v, nil
}

// Hubs returns the clients in the order they are tried
func (v *FailoverVerifier) Hubs() []*HubClient {
	return v.hubs
}

// Verify implements checkout.Verifier
func (v *FailoverVerifier) Verify(ctx context.Context, req types.VerifyRequest) (*types.VerifyResponse, error) {
	var lastErr error
	for i, hub := range v.hubs {
		v.logger.Info("verifying purchase with hub",
			"index", i+1,
			"total", len(v.hubs),
			"url", hub.URL,
			"txHash", req.TxHash)

		resp, err := hub.Orders.Verify(ctx, req)
		if err == nil {
			return resp, nil
		}

		next := ctx.Err() == nil && shouldTryNextHub(err)
		v.logger.Warn("hub verification failed", "url", hub.URL, "error", err, "willRetry", next)

		lastErr = err
		if !next {
			return nil, err
		}
	}
	return nil, fmt.Errorf("all hubs failed, last error: %w", lastErr)
}

// shouldTryNextHub reports whether err is a failure of the hub itself rather
// than an answer about the request
func shouldTryNextHub(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// per-hub credentials
		if httpErr.StatusCode == http.StatusUnauthorized {
			return true
		}
		return httpErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable")
}
