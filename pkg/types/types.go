package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ChainRef identifies the network a payment runs on
type ChainRef struct {
	NetworkID            string `json:"networkId"`
	ChainID              int64  `json:"chainId"`
	NativeCurrencySymbol string `json:"nativeCurrencySymbol"`
}

// TokenRef identifies an ERC-20 token on a specific network
// DecimalPlaces governs all amount scaling for the token
type TokenRef struct {
	Symbol          string `json:"symbol"`
	ContractAddress string `json:"contractAddress"`
	DecimalPlaces   uint8  `json:"decimalPlaces"`
}

// ToMinorUnits scales a major-unit amount (e.g. 249 USDC) into the integer
// representation submitted on-chain. Fractions below one minor unit are truncated.
func (t TokenRef) ToMinorUnits(major decimal.Decimal) *big.Int {
	return major.Shift(int32(t.DecimalPlaces)).Truncate(0).BigInt()
}

// ToMajorUnits converts an on-chain integer amount back to a decimal amount
func (t TokenRef) ToMajorUnits(minor *big.Int) decimal.Decimal {
	if minor == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(minor, -int32(t.DecimalPlaces))
}

// NetworkDefinition is one row of the static network table
type NetworkDefinition struct {
	Name                   string `json:"name" yaml:"name"`
	ChainID                int64  `json:"chainId" yaml:"chain_id"`
	DisplayName            string `json:"displayName" yaml:"display_name"`
	NativeCurrencySymbol   string `json:"nativeCurrencySymbol" yaml:"native_currency_symbol"`
	PaymentContractAddress string `json:"paymentContractAddress" yaml:"payment_contract_address"` // empty = not deployed
	USDCAddress            string `json:"usdcAddress" yaml:"usdc_address"`
	USDTAddress            string `json:"usdtAddress" yaml:"usdt_address"`
	ExplorerURL            string `json:"explorerUrl" yaml:"explorer_url"`
	IsDeployed             bool   `json:"isDeployed" yaml:"is_deployed"`

	// per-token decimals; tokens missing here use the token default
	TokenDecimals map[string]uint8 `json:"tokenDecimals,omitempty" yaml:"token_decimals,omitempty"`
}

// ChainRef returns the chain reference for this network
func (n NetworkDefinition) ChainRef() ChainRef {
	return ChainRef{
		NetworkID:            n.Name,
		ChainID:              n.ChainID,
		NativeCurrencySymbol: n.NativeCurrencySymbol,
	}
}

// TokenAddress returns the contract address for a token symbol, or "" if the
// network has no such token
func (n NetworkDefinition) TokenAddress(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "USDC":
		return n.USDCAddress
	case "USDT":
		return n.USDTAddress
	}
	return ""
}

// TxExplorerURL builds an explorer link for a transaction hash
func (n NetworkDefinition) TxExplorerURL(txHash string) string {
	if n.ExplorerURL == "" || txHash == "" {
		return ""
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/tx/" + txHash
}

// Allowance is the spending amount an owner has authorized for a spender
type Allowance struct {
	Owner   string   `json:"owner"`
	Spender string   `json:"spender"`
	Token   string   `json:"token"`
	Amount  *big.Int `json:"amount"`
}

// Covers reports whether the allowance satisfies target. A non-positive target
// is always covered.
func (a Allowance) Covers(target *big.Int) bool {
	if target == nil || target.Sign() <= 0 {
		return true
	}
	if a.Amount == nil {
		return false
	}
	return a.Amount.Cmp(target) >= 0
}

// PaymentIntent is the immutable input of one checkout session
type PaymentIntent struct {
	SessionID        string            `json:"sessionId"`
	OrderID          string            `json:"orderId,omitempty"`
	ProductID        string            `json:"productId"`
	Network          NetworkDefinition `json:"network"`
	Token            TokenRef          `json:"token"`
	AmountMajorUnits decimal.Decimal   `json:"amountMajorUnits"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// AmountMinorUnits returns the purchase amount in token minor units
func (p PaymentIntent) AmountMinorUnits() *big.Int {
	return p.Token.ToMinorUnits(p.AmountMajorUnits)
}

// TxKind distinguishes the two transactions of a checkout, plus the
// operator-side product registration
type TxKind string

const (
	TxKindApproval     TxKind = "approval"
	TxKindPurchase     TxKind = "purchase"
	TxKindRegistration TxKind = "registration"
)

// TxStatus is the lifecycle of a submitted transaction
type TxStatus string

const (
	TxStatusPending    TxStatus = "pending"
	TxStatusConfirming TxStatus = "confirming"
	TxStatusConfirmed  TxStatus = "confirmed"
	TxStatusReverted   TxStatus = "reverted"
)

// IsTerminal returns true once the status can no longer change
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusConfirmed || s == TxStatusReverted
}

// TransactionRecord tracks one submitted transaction. It is kept after
// completion (and after errors) so the hash stays available for display.
type TransactionRecord struct {
	Hash        string    `json:"hash"`
	Kind        TxKind    `json:"kind"`
	ChainID     int64     `json:"chainId"`
	SubmittedAt time.Time `json:"submittedAt"`
	Status      TxStatus  `json:"status"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	ExplorerURL string    `json:"explorerUrl,omitempty"`
}

// OrchestrationStatus is the single user-facing checkout state
type OrchestrationStatus string

const (
	StatusIdle             OrchestrationStatus = "idle"
	StatusCheckingApproval OrchestrationStatus = "checking-approval"
	StatusNeedsApproval    OrchestrationStatus = "needs-approval"
	StatusApproving        OrchestrationStatus = "approving"
	StatusApproved         OrchestrationStatus = "approved"
	StatusPending          OrchestrationStatus = "pending"
	StatusConfirming       OrchestrationStatus = "confirming"
	StatusSuccess          OrchestrationStatus = "success"
	StatusError            OrchestrationStatus = "error"
)

// IsTerminal returns true for success and error
func (s OrchestrationStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// GasEstimate is an advisory cost estimate for a token-transfer-class call.
// UpdatedAt is zero until the first successful fetch, which separates
// "never loaded" from "stale after a failed refresh".
type GasEstimate struct {
	GasPriceGwei        decimal.Decimal `json:"gasPriceGwei"`
	EstimatedCostNative decimal.Decimal `json:"estimatedCostNative"`
	EstimatedCostFiat   decimal.Decimal `json:"estimatedCostFiat"`
	Loading             bool            `json:"loading"`
	Error               string          `json:"error,omitempty"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Loaded returns true if at least one fetch has succeeded
func (g GasEstimate) Loaded() bool {
	return !g.UpdatedAt.IsZero()
}

// Stale returns true if values exist but the latest refresh failed
func (g GasEstimate) Stale() bool {
	return g.Loaded() && g.Error != ""
}

// PurchaseEvent is the decoded ProductPurchased log of a purchase receipt
type PurchaseEvent struct {
	Buyer     string   `json:"buyer"`
	ProductID string   `json:"productId"`
	Amount    *big.Int `json:"amount"`
	Timestamp uint64   `json:"timestamp"`
	Contract  string   `json:"contract"`
}

// VerifyRequest is handed to the verification service after local confirmation
type VerifyRequest struct {
	OrderID string `json:"orderId"`
	TxHash  string `json:"txHash"`
	ChainID int64  `json:"chainId"`
}

// VerifyResponse is the verification service's answer
type VerifyResponse struct {
	OrderID     string  `json:"orderId"`
	Status      string  `json:"status"` // e.g. "paid", "pending", "failed"
	Verified    bool    `json:"verified"`
	TxHash      string  `json:"txHash,omitempty"`
	BlockNumber uint64  `json:"blockNumber,omitempty"`
	Error       *string `json:"error,omitempty"`
}

// Order is the verification service's view of an order
type Order struct {
	ID              string    `json:"id"`
	ProductID       string    `json:"productId"`
	Status          string    `json:"status"`
	Amount          string    `json:"amount"` // minor units as string
	ChainID         int64     `json:"chainId"`
	TransactionHash *string   `json:"transactionHash,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	// History is oldest first
	History []OrderEvent `json:"history,omitempty"`
}

// OrderEvent is one status change of an order
type OrderEvent struct {
	Status    string    `json:"status"`
	TxHash    string    `json:"txHash,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
