package hubclient

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sigweihq/storepay/pkg/types"
)

// ErrNotSignedIn is returned by calls that need a buyer session
var ErrNotSignedIn = errors.New("not signed in to the order service")

// AuthClient signs a buyer in to the order service with their wallet key.
// Verification works without a session; listing a buyer's orders does not.
type AuthClient struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	tokens types.TokenPair
	buyer  *types.User
}

func newAuthClient(baseURL string, httpClient *http.Client) *AuthClient {
	return &AuthClient{baseURL: baseURL, httpClient: httpClient}
}

// Challenge returns the nonce message the wallet has to sign.
// GET /api/v1/auth/message?walletAddress=0x...
func (c *AuthClient) Challenge(ctx context.Context, walletAddress string) (string, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/auth/message")
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	u.RawQuery = url.Values{"walletAddress": {walletAddress}}.Encode()

	var msg types.MessageResponse
	if err := httpRequest(ctx, c.httpClient, http.MethodGet, u.String(), nil, nil, &msg); err != nil {
		return "", fmt.Errorf("failed to get sign-in challenge: %w", err)
	}
	if msg.Message == "" {
		return "", errors.New("failed to get sign-in challenge: empty message")
	}
	return msg.Message, nil
}

// Login exchanges a signed challenge for a session.
// POST /api/v1/auth/login
func (c *AuthClient) Login(ctx context.Context, message, signature string) (*types.AuthResponse, error) {
	var resp types.AuthResponse
	req := types.AuthRequest{Message: message, Signature: signature}
	if err := httpRequest(ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/v1/auth/login", req, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	c.mu.Lock()
	c.tokens = types.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	c.buyer = resp.User
	c.mu.Unlock()
	return &resp, nil
}

// LoginWithKey signs the challenge for the key's address and logs in
func (c *AuthClient) LoginWithKey(ctx context.Context, key *ecdsa.PrivateKey) (*types.AuthResponse, error) {
	if key == nil {
		return nil, errors.New("failed to sign in: no signing key")
	}

	message, err := c.Challenge(ctx, crypto.PubkeyToAddress(key.PublicKey).Hex())
	if err != nil {
		return nil, err
	}
	signature, err := SignMessage(key, message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	return c.Login(ctx, message, signature)
}

// SignMessage produces an EIP-191 personal_sign signature with V in {27, 28}
func SignMessage(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Refresh rotates both session tokens.
// POST /api/v1/auth/refresh
func (c *AuthClient) Refresh(ctx context.Context) error {
	current := c.Session()
	if current.RefreshToken == "" {
		return ErrNotSignedIn
	}

	var next types.TokenPair
	req := types.RefreshRequest{RefreshToken: current.RefreshToken}
	if err := httpRequest(ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/v1/auth/refresh", req, nil, &next); err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}

	c.mu.Lock()
	// a concurrent Logout wins
	if c.tokens.RefreshToken == current.RefreshToken {
		c.tokens = next
	}
	c.mu.Unlock()
	return nil
}

// Me returns the signed-in buyer.
// GET /api/v1/auth/me
func (c *AuthClient) Me(ctx context.Context) (*types.User, error) {
	var buyer types.User
	err := c.authorized(ctx, func(headers map[string]string) error {
		return httpRequest(ctx, c.httpClient, http.MethodGet, c.baseURL+"/api/v1/auth/me", nil, headers, &buyer)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get buyer: %w", err)
	}

	c.mu.Lock()
	c.buyer = &buyer
	c.mu.Unlock()
	return &buyer, nil
}

// Logout ends the session. Local tokens are dropped even when the service
// call fails.
// POST /api/v1/auth/logout
func (c *AuthClient) Logout(ctx context.Context) error {
	token := c.Session().AccessToken
	c.Clear()
	if token == "" {
		return nil
	}
	if err := httpRequest(ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/v1/auth/logout", nil, bearer(token), nil); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// Session returns the current token pair
func (c *AuthClient) Session() types.TokenPair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

// Resume installs tokens from an earlier session
func (c *AuthClient) Resume(tokens types.TokenPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tokens
	c.buyer = nil
}

// Buyer returns the buyer from the last Login or Me, if any
func (c *AuthClient) Buyer() *types.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buyer
}

// SignedIn reports whether an access token is held
func (c *AuthClient) SignedIn() bool {
	return c.Session().AccessToken != ""
}

// Clear drops the session
func (c *AuthClient) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = types.TokenPair{}
	c.buyer = nil
}

// authorized runs call with the bearer header. A 401 triggers one session
// refresh and one more attempt.
func (c *AuthClient) authorized(ctx context.Context, call func(headers map[string]string) error) error {
	token := c.Session().AccessToken
	if token == "" {
		return ErrNotSignedIn
	}

	err := call(bearer(token))
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || !httpErr.IsUnauthorized() {
		return err
	}
	if refreshErr := c.Refresh(ctx); refreshErr != nil {
		return fmt.Errorf("%w (session refresh failed: %v)", err, refreshErr)
	}
	return call(bearer(c.Session().AccessToken))
}
