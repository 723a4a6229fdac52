package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how a customer is paying
type PaymentMethod string

// Supported payment methods
const (
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodPayPal       PaymentMethod = "paypal"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

// Details carries the raw method-specific fields collected at checkout.
// Only the fields for the chosen method are expected to be set; everything
// here is transient input and is never persisted as-is.
type Details struct {
	CardNumber     string `json:"number,omitempty"`
	Expiry         string `json:"expiry,omitempty"`
	CVV            string `json:"cvv,omitempty"`
	CardholderName string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
	RoutingNumber  string `json:"routing_number,omitempty"`
	AccountNumber  string `json:"account_number,omitempty"`
	BankName       string `json:"bank_name,omitempty"`
}

// ValidationResult is the outcome of validating a payment method
type ValidationResult struct {
	Valid    bool   `json:"valid"`
	Message  string `json:"message"`
	CardType string `json:"card_type,omitempty"`
}

// RecordStatus constants
const (
	RecordStatusPending   = "pending"
	RecordStatusCompleted = "completed"
	RecordStatusFailed    = "failed"
)

// SecurePaymentRecord is the persisted, redacted view of a payment attempt.
// It never contains a full card number, CVV, or full account number; cards
// are represented by their last four digits, brand, and a derived token.
// Status is the only field that changes after creation.
type SecurePaymentRecord struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	Method          PaymentMethod   `json:"payment_method"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	CardLastFour    string          `json:"card_last_four,omitempty"`
	CardType        string          `json:"card_type,omitempty"`
	CardholderName  string          `json:"cardholder_name,omitempty"`
	PaymentToken    string          `json:"payment_token,omitempty"`
	PayPalEmail     string          `json:"paypal_email,omitempty"`
	BankName        string          `json:"bank_name,omitempty"`
	AccountLastFour string          `json:"account_last_four,omitempty"`
}

// ValidateRequest represents a request to validate payment details
type ValidateRequest struct {
	Method  PaymentMethod `json:"method" binding:"required"`
	Details Details       `json:"details"`
}

// ChargeRequest represents a payment charge request. ThreeDSToken carries
// the authentication token from a completed 3D Secure challenge when the
// checkout ran one before charging.
type ChargeRequest struct {
	Amount       decimal.Decimal `json:"amount" binding:"required"`
	Method       PaymentMethod   `json:"method" binding:"required"`
	Details      Details         `json:"details"`
	ClientID     string          `json:"client_id"`
	ThreeDSToken string          `json:"threeds_token,omitempty"`
}

// ChargeResponse represents a payment charge response
type ChargeResponse struct {
	TransactionID   string   `json:"transaction_id,omitempty"`
	RecordID        string   `json:"record_id,omitempty"`
	Status          string   `json:"status"`
	Message         string   `json:"message,omitempty"`
	CardType        string   `json:"card_type,omitempty"`
	FraudWarnings   []string `json:"fraud_warnings,omitempty"`
	RequiresReview  bool     `json:"requires_review,omitempty"`
	Severity        string   `json:"severity,omitempty"`
	SuggestedAction string   `json:"suggested_action,omitempty"`
	ErrorCode       string   `json:"error_code,omitempty"`
}
