package gateway

import (
	"errors"
	"fmt"
)

// Severity levels for classified payment failures. The names line up with
// the alert styles the storefront renders.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityDanger   = "danger"
	SeverityInfo     = "info"
)

// Classification is the user-facing projection of a payment failure: what
// to show, how loudly, and what the customer should do next.
type Classification struct {
	Severity        string `json:"severity"`
	UserMessage     string `json:"user_message"`
	SuggestedAction string `json:"suggested_action"`
}

// Classify maps any error from the payment pipeline to a Classification.
// The function is total: every PaymentError variant has a distinct mapping
// and anything else falls through to a generic "contact support" entry.
// InsufficientFunds must be checked before the generic decline because it
// unwraps to one.
func Classify(err error) Classification {
	var (
		insufficient *InsufficientFundsError
		declined     *CardDeclinedError
		invalid      *InvalidPaymentMethodError
		timeout      *NetworkTimeoutError
		generic      *GenericError
		payErr       PaymentError
	)

	switch {
	case errors.As(err, &insufficient):
		return Classification{
			Severity:        SeverityCritical,
			UserMessage:     "Payment declined due to insufficient funds.",
			SuggestedAction: "Please use a different card or check your account balance.",
		}
	case errors.As(err, &declined):
		return Classification{
			Severity:        SeverityWarning,
			UserMessage:     fmt.Sprintf("Card was declined: %s", declined.Reason),
			SuggestedAction: "Please verify your card details or contact your bank.",
		}
	case errors.As(err, &invalid):
		return Classification{
			Severity:        SeverityDanger,
			UserMessage:     "Invalid payment details provided.",
			SuggestedAction: "Please check your card number, expiry date, and CVV.",
		}
	case errors.As(err, &timeout):
		return Classification{
			Severity:        SeverityInfo,
			UserMessage:     "Connection timeout occurred.",
			SuggestedAction: "Please try again. If the problem persists, contact support.",
		}
	case errors.As(err, &generic):
		return Classification{
			Severity:        SeverityDanger,
			UserMessage:     fmt.Sprintf("Payment error: %s", generic.Message),
			SuggestedAction: "Please contact support with error code: " + generic.Code(),
		}
	case errors.As(err, &payErr):
		return Classification{
			Severity:        SeverityDanger,
			UserMessage:     "Payment error occurred.",
			SuggestedAction: "Please contact support with error code: " + payErr.Code(),
		}
	default:
		return Classification{
			Severity:        SeverityDanger,
			UserMessage:     "An unexpected error occurred.",
			SuggestedAction: "Please contact support for assistance.",
		}
	}
}
