package domain

import (
	"errors"
	"fmt"
)

// ValidationError marks a malformed signal. It is rejected before sizing
// and never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: %s: %s", e.Field, e.Msg)
}

// IdentifierNotFoundError means resolution exhausted every strategy,
// including forced catalog refreshes. The order is never placed.
type IdentifierNotFoundError struct {
	Ticker string
}

func (e *IdentifierNotFoundError) Error() string {
	return fmt.Sprintf("security identifier not found for ticker %q", e.Ticker)
}

// GatewayError wraps a failed brokerage call. Transient errors are eligible
// for retry in the rebase loop; placement is a single attempt either way.
type GatewayError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *GatewayError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("gateway %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// TerminalOrderFailure means the broker reported a state the order can
// never recover from. It is never retried.
type TerminalOrderFailure struct {
	OrderID string
	Status  string
}

func (e *TerminalOrderFailure) Error() string {
	return fmt.Sprintf("order %s is terminally %s", e.OrderID, e.Status)
}

// IsTransient reports whether err may succeed on retry. Terminal failures
// and validation errors are never transient.
func IsTransient(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Transient
	}
	var tf *TerminalOrderFailure
	if errors.As(err, &tf) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	return false
}

// IsTerminalBrokerStatus reports whether a broker-side order status can
// never transition to filled.
func IsTerminalBrokerStatus(status string) bool {
	return status == BrokerStatusRejected || status == BrokerStatusCancelled
}
