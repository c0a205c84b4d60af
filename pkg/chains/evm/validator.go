package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/storepay/pkg/chains"
)

// PurchaseExpectation is what a purchase receipt must prove
type PurchaseExpectation struct {
	Buyer           string
	ProductID       string
	Amount          *big.Int
	PaymentContract string // optional; checked when set
}

// PurchaseValidator checks purchase receipts against an expectation
type PurchaseValidator struct{}

func NewPurchaseValidator() *PurchaseValidator {
	return &PurchaseValidator{}
}

// ValidatePurchase verifies the receipt succeeded and carries a matching
// ProductPurchased event
func (v *PurchaseValidator) ValidatePurchase(receipt chains.TransactionReceipt, expected PurchaseExpectation) error {
	if !receipt.IsSuccessful() {
		return fmt.Errorf("transaction failed on blockchain")
	}

	event, err := receipt.GetPurchaseEvent()
	if err != nil {
		return fmt.Errorf("no purchase event found in transaction: %w", err)
	}

	if expected.Buyer != "" && !v.AddressesEqual(event.Buyer, expected.Buyer) {
		return fmt.Errorf("purchase buyer mismatch: got %s, expected %s", event.Buyer, expected.Buyer)
	}

	if event.ProductID != expected.ProductID {
		return fmt.Errorf("purchase product mismatch: got %q, expected %q", event.ProductID, expected.ProductID)
	}

	if expected.Amount != nil && event.Amount.Cmp(expected.Amount) != 0 {
		return fmt.Errorf("purchase amount mismatch: got %s, expected %s",
			event.Amount.String(), expected.Amount.String())
	}

	if expected.PaymentContract != "" && !v.AddressesEqual(event.Contract, expected.PaymentContract) {
		return fmt.Errorf("payment contract mismatch: got %s, expected %s", event.Contract, expected.PaymentContract)
	}

	return nil
}

// NormalizeTxHash adds the 0x prefix and checks the hash length
func (v *PurchaseValidator) NormalizeTxHash(txHash string) (string, error) {
	if txHash == "" {
		return "", fmt.Errorf("empty transaction hash")
	}

	if !strings.HasPrefix(txHash, "0x") {
		txHash = "0x" + txHash
	}

	if len(txHash) != 66 { // 0x + 64 hex chars
		return "", fmt.Errorf("invalid transaction hash format: %s", txHash)
	}

	return txHash, nil
}

// AddressesEqual compares addresses case-insensitively (EIP-55 checksums)
func (v *PurchaseValidator) AddressesEqual(addr1, addr2 string) bool {
	return common.HexToAddress(addr1) == common.HexToAddress(addr2)
}
