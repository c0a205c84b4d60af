// Package errclass maps raw wallet and RPC failures onto a small, stable
// taxonomy used for user-facing messaging.
package errclass

import (
	"context"
	"errors"
	"strings"
)

// Category is one bucket of the error taxonomy
type Category string

const (
	UserRejected        Category = "user-rejected"
	InsufficientFunds   Category = "insufficient-funds"
	ContractReverted    Category = "contract-reverted"
	NetworkError        Category = "network-error"
	Timeout             Category = "timeout"
	GasEstimationFailed Category = "gas-estimation-failed"
	Unknown             Category = "unknown"
)

// rule matches case-sensitive fragments; the first matching rule wins
type rule struct {
	category  Category
	fragments []string
}

var rules = []rule{
	{UserRejected, []string{"User rejected", "user rejected", "User denied", "ACTION_REJECTED"}},
	{InsufficientFunds, []string{"insufficient funds", "exceeds balance"}},
	// a revert during estimation happened before anything was submitted
	{GasEstimationFailed, []string{"gas estimation failed", "cannot estimate gas", "UNPREDICTABLE_GAS_LIMIT"}},
	{ContractReverted, []string{"reverted", "CALL_EXCEPTION"}},
	{NetworkError, []string{"network", "connection refused", "no such host", "EOF"}},
	{Timeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{GasEstimationFailed, []string{"gas"}},
}

// Classify maps a raw error message to a category. Every input, including
// the empty string, yields exactly one category.
func Classify(raw string) Category {
	for _, r := range rules {
		for _, fragment := range r.fragments {
			if strings.Contains(raw, fragment) {
				return r.category
			}
		}
	}
	return Unknown
}

// FromError classifies an error value. A nil error is Unknown.
func FromError(err error) Category {
	if err == nil {
		return Unknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Classify(err.Error())
}

// IsCancellation is true when the user declined a wallet prompt; no funds
// are at risk
func (c Category) IsCancellation() bool {
	return c == UserRejected
}

// Retryable reports whether offering a plain retry makes sense
func (c Category) Retryable() bool {
	switch c {
	case InsufficientFunds, ContractReverted:
		return false
	default:
		return true
	}
}

// Message returns the user-facing text for a category
func (c Category) Message() string {
	switch c {
	case UserRejected:
		return "Transaction cancelled in your wallet. Nothing was submitted."
	case InsufficientFunds:
		return "Insufficient funds. Top up your token balance and gas, then try again."
	case ContractReverted:
		return "The contract rejected the transaction. No value was transferred."
	case NetworkError:
		return "Network error while talking to the blockchain. Please try again."
	case Timeout:
		return "The transaction was not confirmed in time. Check the explorer link before retrying."
	case GasEstimationFailed:
		return "Gas estimation failed. Try again, or set the gas price manually."
	default:
		return "Something went wrong. Please try again."
	}
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	switch c {
	case UserRejected, InsufficientFunds, ContractReverted, NetworkError, Timeout, GasEstimationFailed, Unknown:
		return true
	}
	return false
}
