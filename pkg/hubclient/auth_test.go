package hubclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sigweihq/storepay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hardhatKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	hardhatAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	challenge      = "Sign in to the storefront\n\nNonce: 42"
)

// fakeHub is an order service with wallet sign-in and one buyer's orders
type fakeHub struct {
	*httptest.Server

	mu         sync.Mutex
	issued     int
	access     string
	refresh    string
	refreshes  int
	failLogout bool
	orders     []*types.Order
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{}
	h.Server = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.Close)
	return h
}

func (h *fakeHub) issueLocked() types.TokenPair {
	h.issued++
	h.access = fmt.Sprintf("access-%d", h.issued)
	h.refresh = fmt.Sprintf("refresh-%d", h.issued)
	return types.TokenPair{AccessToken: h.access, RefreshToken: h.refresh}
}

func (h *fakeHub) setOrders(orders ...*types.Order) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orders = orders
}

// expire invalidates the access token the client holds
func (h *fakeHub) expire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.access = "rotated-by-server"
}

func (h *fakeHub) refreshCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refreshes
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	authorized := r.Header.Get("Authorization") == "Bearer "+h.access && h.access != ""
	unauthorized := map[string]string{"error": "invalid or expired token"}

	switch {
	case r.URL.Path == "/api/v1/auth/message":
		if r.URL.Query().Get("walletAddress") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "walletAddress is required"})
			return
		}
		writeJSON(w, http.StatusOK, types.MessageResponse{Message: challenge})

	case r.URL.Path == "/api/v1/auth/login":
		var req types.AuthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message != challenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown challenge"})
			return
		}
		raw, err := hexutil.Decode(req.Signature)
		if err != nil || len(raw) != 65 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
			return
		}
		raw[64] -= 27
		pub, err := crypto.SigToPub(accounts.TextHash([]byte(req.Message)), raw)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
			return
		}
		tokens := h.issueLocked()
		writeJSON(w, http.StatusOK, types.AuthResponse{
			User:         &types.User{ID: 7, WalletAddress: crypto.PubkeyToAddress(*pub).Hex()},
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
		})

	case r.URL.Path == "/api/v1/auth/refresh":
		var req types.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken != h.refresh {
			writeJSON(w, http.StatusUnauthorized, unauthorized)
			return
		}
		h.refreshes++
		writeJSON(w, http.StatusOK, h.issueLocked())

	case r.URL.Path == "/api/v1/auth/me":
		if !authorized {
			writeJSON(w, http.StatusUnauthorized, unauthorized)
			return
		}
		writeJSON(w, http.StatusOK, types.User{ID: 7, WalletAddress: hardhatAddress})

	case r.URL.Path == "/api/v1/auth/logout":
		if h.failLogout {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database unavailable"})
			return
		}
		h.access, h.refresh = "", ""
		w.WriteHeader(http.StatusNoContent)

	case r.URL.Path == "/api/v1/orders":
		if !authorized {
			writeJSON(w, http.StatusUnauthorized, unauthorized)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		var matching []*types.Order
		for _, o := range h.orders {
			if status := r.URL.Query().Get("status"); status != "" && o.Status != status {
				continue
			}
			matching = append(matching, o)
		}
		page := []*types.Order{}
		for i := offset; i < len(matching) && i < offset+limit; i++ {
			page = append(page, matching[i])
		}
		writeJSON(w, http.StatusOK, types.OrderListResponse{Orders: page, Total: len(matching), Limit: limit, Offset: offset})

	case strings.HasPrefix(r.URL.Path, "/api/v1/orders/"):
		if r.Header.Get("Authorization") != "" && !authorized {
			writeJSON(w, http.StatusUnauthorized, unauthorized)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/orders/")
		for _, o := range h.orders {
			if o.ID == id {
				// history is only shown to the buyer
				order := *o
				if !authorized {
					order.History = nil
				}
				writeJSON(w, http.StatusOK, order)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func signedInClient(t *testing.T, hub *fakeHub) *HubClient {
	t.Helper()
	key, err := crypto.HexToECDSA(hardhatKey)
	require.NoError(t, err)

	client := NewHubClient(&Config{URL: hub.URL, HTTPClient: hub.Client()})
	_, err = client.Auth.LoginWithKey(context.Background(), key)
	require.NoError(t, err)
	return client
}

func TestSignMessage_RecoversSigner(t *testing.T) {
	key, err := crypto.HexToECDSA(hardhatKey)
	require.NoError(t, err)

	sig, err := SignMessage(key, "storefront login")
	require.NoError(t, err)

	raw, err := hexutil.Decode(sig)
	require.NoError(t, err)
	require.Len(t, raw, 65)
	assert.Contains(t, []byte{27, 28}, raw[64])

	raw[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte("storefront login")), raw)
	require.NoError(t, err)
	assert.Equal(t, hardhatAddress, crypto.PubkeyToAddress(*pub).Hex())
}

func TestAuthClient_LoginWithKey(t *testing.T) {
	hub := newFakeHub(t)
	client := signedInClient(t, hub)

	assert.True(t, client.Auth.SignedIn())
	assert.Equal(t, types.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}, client.Auth.Session())
	require.NotNil(t, client.Auth.Buyer())
	assert.Equal(t, hardhatAddress, client.Auth.Buyer().WalletAddress, "service recovered the signing address")

	_, err := client.Auth.LoginWithKey(context.Background(), nil)
	assert.ErrorContains(t, err, "no signing key")
}

func TestAuthClient_Challenge(t *testing.T) {
	tests := []struct {
		name          string
		address       string
		handler       http.HandlerFunc
		expected      string
		errorContains string
	}{
		{
			name:     "returns nonce message",
			address:  hardhatAddress,
			expected: challenge,
		},
		{
			name:          "service rejects address",
			address:       "",
			errorContains: "walletAddress is required",
		},
		{
			name:    "empty message",
			address: hardhatAddress,
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, types.MessageResponse{})
			},
			errorContains: "empty message",
		},
		{
			name:    "service down",
			address: hardhatAddress,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			errorContains: "HTTP 502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := newFakeHub(t).URL
			if tt.handler != nil {
				server := httptest.NewServer(tt.handler)
				t.Cleanup(server.Close)
				url = server.URL
			}

			msg, err := newAuthClient(url, http.DefaultClient).Challenge(context.Background(), tt.address)
			if tt.errorContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, msg)
		})
	}
}

func TestAuthClient_Refresh(t *testing.T) {
	hub := newFakeHub(t)

	anonymous := NewHubClient(&Config{URL: hub.URL, HTTPClient: hub.Client()})
	assert.ErrorIs(t, anonymous.Auth.Refresh(context.Background()), ErrNotSignedIn)

	client := signedInClient(t, hub)
	require.NoError(t, client.Auth.Refresh(context.Background()))
	assert.Equal(t, types.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"}, client.Auth.Session())

	// a refresh token is single use
	client.Auth.Resume(types.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-1"})
	err := client.Auth.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to refresh session")
}

func TestAuthClient_MeRefreshesExpiredSession(t *testing.T) {
	hub := newFakeHub(t)
	client := signedInClient(t, hub)

	hub.expire()
	buyer, err := client.Auth.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hardhatAddress, buyer.WalletAddress)
	assert.Equal(t, 1, hub.refreshCount())
	assert.Equal(t, "access-2", client.Auth.Session().AccessToken)
}

func TestAuthClient_MeWithoutSession(t *testing.T) {
	hub := newFakeHub(t)
	client := NewHubClient(&Config{URL: hub.URL, HTTPClient: hub.Client()})

	_, err := client.Auth.Me(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestAuthClient_Logout(t *testing.T) {
	tests := []struct {
		name       string
		signIn     bool
		failLogout bool
		wantErr    bool
	}{
		{name: "ends session", signIn: true},
		{name: "service failure still drops tokens", signIn: true, failLogout: true, wantErr: true},
		{name: "no session is a no-op"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newFakeHub(t)
			hub.mu.Lock()
			hub.failLogout = tt.failLogout
			hub.mu.Unlock()
			client := NewHubClient(&Config{URL: hub.URL, HTTPClient: hub.Client()})
			if tt.signIn {
				client = signedInClient(t, hub)
			}

			err := client.Auth.Logout(context.Background())
			if tt.wantErr {
				assert.ErrorContains(t, err, "failed to sign out")
			} else {
				assert.NoError(t, err)
			}
			assert.False(t, client.Auth.SignedIn())
			assert.Nil(t, client.Auth.Buyer())
		})
	}
}
