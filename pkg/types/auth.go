package types

// MessageResponse represents the auth message response
type MessageResponse struct {
	Message string `json:"message"`
}

// AuthRequest represents a wallet authentication request
type AuthRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// User represents a storefront customer identified by wallet
type User struct {
	ID            uint64 `json:"id"`
	WalletAddress string `json:"walletAddress"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenPair represents access and refresh token pair
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// OrderListParams filters the authenticated user's orders
type OrderListParams struct {
	ChainID int64  `json:"chainId,omitempty"`
	Status  string `json:"status,omitempty"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
}

// OrderListResponse is one page of orders
type OrderListResponse struct {
	Orders []*Order `json:"orders"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}
