package metrics

import "time"

// Metric names recorded by the checkout flow
const (
	StatusTransition   = "status_transition"
	CheckoutError      = "checkout_error"
	TxSubmitted        = "tx_submitted"
	TxConfirmed        = "tx_confirmed"
	ConfirmLatency     = "tx_confirm"
	VerificationResult = "verification"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
