package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// ERC20ABIJSON is the subset of the token interface the payment flow consumes
const ERC20ABIJSON = `[
	{"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

// PaymentABIJSON is the payment contract surface: purchases, product
// registration and the purchase event
const PaymentABIJSON = `[
	{"inputs":[{"internalType":"string","name":"productId","type":"string"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"buyProduct","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"string","name":"productId","type":"string"},{"internalType":"uint256","name":"price","type":"uint256"}],"name":"registerProduct","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"buyer","type":"address"},{"indexed":false,"internalType":"string","name":"productId","type":"string"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":false,"internalType":"uint256","name":"timestamp","type":"uint256"}],"name":"ProductPurchased","type":"event"}
]`

const (
	methodApprove         = "approve"
	methodAllowance       = "allowance"
	methodBalanceOf       = "balanceOf"
	methodDecimals        = "decimals"
	methodSymbol          = "symbol"
	methodBuyProduct      = "buyProduct"
	methodRegisterProduct = "registerProduct"
	eventProductPurchased = "ProductPurchased"
)

var (
	erc20ABI   = mustParseABI(ERC20ABIJSON)
	paymentABI = mustParseABI(PaymentABIJSON)
)

// MaxApproval is the sentinel amount used for unlimited approvals (2^256 - 1)
func MaxApproval() *big.Int {
	return new(big.Int).Set(math.MaxBig256)
}

// ProductPurchasedTopic returns the topic hash identifying ProductPurchased logs
func ProductPurchasedTopic() common.Hash {
	return paymentABI.Events[eventProductPurchased].ID
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("evm: invalid ABI: " + err.Error())
	}
	return parsed
}
