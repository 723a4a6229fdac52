package gateway

import "fmt"

// Stable error codes used for support correlation. These appear in audit
// logs and user-facing "contact support" messages but never change between
// releases.
const (
	CodeCardDeclined      = "CARD_DECLINED"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeInvalidDetails    = "INVALID_DETAILS"
	CodeNetworkTimeout    = "NETWORK_TIMEOUT"
	CodeServerFailure     = "P001_SERVER_FAIL"
	CodeGeneric           = "GENERIC_ERROR"
)

// PaymentError is implemented by every failure the simulated gateway can
// produce. Callers branch on concrete types with errors.As and fall back to
// this interface for the code.
type PaymentError interface {
	error
	Code() string
}

// CardDeclinedError is returned when the issuer explicitly declines the
// transaction.
type CardDeclinedError struct {
	Reason string
}

func (e *CardDeclinedError) Error() string {
	return fmt.Sprintf("[%s] Card declined by issuer. Reason: %s", e.Code(), e.Reason)
}

// Code returns the stable support code for a decline
func (e *CardDeclinedError) Code() string { return CodeCardDeclined }

// InsufficientFundsError is a decline caused by lack of money. It unwraps
// to a CardDeclinedError so errors.As treats it as a specialization of a
// decline.
type InsufficientFundsError struct{}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("[%s] Card declined by issuer. Reason: Insufficient funds", e.Code())
}

// Code returns the stable support code for an insufficient-funds decline
func (e *InsufficientFundsError) Code() string { return CodeInsufficientFunds }

// Unwrap exposes the underlying decline
func (e *InsufficientFundsError) Unwrap() error {
	return &CardDeclinedError{Reason: "Insufficient funds"}
}

// InvalidPaymentMethodError is returned when the payment details fail the
// gateway-side re-check (expired card, bad CVC, malformed number).
type InvalidPaymentMethodError struct{}

func (e *InvalidPaymentMethodError) Error() string {
	return fmt.Sprintf("[%s] The payment method details provided are invalid (e.g., expired card, bad CVC).", e.Code())
}

// Code returns the stable support code for invalid details
func (e *InvalidPaymentMethodError) Code() string { return CodeInvalidDetails }

// NetworkTimeoutError is returned on a simulated connectivity failure
// between us and the gateway.
type NetworkTimeoutError struct{}

func (e *NetworkTimeoutError) Error() string {
	return fmt.Sprintf("[%s] Connection to payment gateway timed out. Please try again.", e.Code())
}

// Code returns the stable support code for a timeout
func (e *NetworkTimeoutError) Code() string { return CodeNetworkTimeout }

// GenericError covers unexpected gateway-side failures that do not map to
// a more specific variant.
type GenericError struct {
	ErrorCode string
	Message   string
}

func (e *GenericError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code(), e.Message)
}

// Code returns the carried code, or GENERIC_ERROR when none was set
func (e *GenericError) Code() string {
	if e.ErrorCode == "" {
		return CodeGeneric
	}
	return e.ErrorCode
}
