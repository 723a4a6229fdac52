// Package validate checks the structure of payment method details before a
// charge is attempted. Expected validation failures are reported as values,
// never as errors; a malformed field is routine input, not an exceptional
// state.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bookhaven/payments/internal/card"
	"github.com/bookhaven/payments/internal/models"
)

var (
	expiryPattern   = regexp.MustCompile(`^\d{2}/\d{2}$`)
	cvvPattern      = regexp.MustCompile(`^\d{3,4}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	namePattern     = regexp.MustCompile(`^[a-zA-Z\s]{2,50}$`)
	bankNamePattern = regexp.MustCompile(`^[a-zA-Z\s&]{2,50}$`)
	digitsPattern   = regexp.MustCompile(`^\d+$`)
)

// maxExpiryYears bounds how far in the future an expiry date may be.
// Issuers do not put out cards valid longer than this, so anything beyond
// it is malformed input.
const maxExpiryYears = 20

// Email reports whether the address looks like user@domain.tld. This is a
// UX-level sanity check, not an RFC 5322 parse.
func Email(address string) bool {
	return emailPattern.MatchString(address)
}

// Expiry validates an MM/YY expiry date against the current month. A card
// expiring this month is still valid; one that expired last month is not.
func Expiry(expiry string) (bool, string) {
	if !expiryPattern.MatchString(expiry) {
		return false, fmt.Sprintf("Invalid expiry format: %s (expected MM/YY)", expiry)
	}

	parts := strings.SplitN(expiry, "/", 2)
	month, _ := strconv.Atoi(parts[0])
	year, _ := strconv.Atoi(parts[1])

	if month < 1 || month > 12 {
		return false, fmt.Sprintf("Invalid expiry month: %s (must be 01-12)", parts[0])
	}

	now := time.Now()
	fullYear := 2000 + year
	currentYear, currentMonth := now.Year(), int(now.Month())

	if fullYear < currentYear || (fullYear == currentYear && month < currentMonth) {
		return false, "Card has expired"
	}
	if fullYear > currentYear+maxExpiryYears {
		return false, "Invalid expiry date (too far in future)"
	}

	return true, "Expiry date is valid"
}

// CVV validates the security code for the given card type. American
// Express uses a 4-digit code; every other brand uses 3 digits.
func CVV(cvv, cardType string) (bool, string) {
	if !digitsPattern.MatchString(cvv) {
		return false, "CVV must contain only digits"
	}

	if cardType == card.TypeAmex {
		if len(cvv) != 4 {
			return false, "American Express CVV must be 4 digits"
		}
	} else if len(cvv) != 3 {
		return false, "CVV must be 3 digits"
	}

	return true, "CVV is valid"
}

// RoutingNumber validates a US ABA routing number: exactly 9 digits.
func RoutingNumber(routing string) bool {
	return len(routing) == 9 && digitsPattern.MatchString(routing)
}

// AccountNumber validates a bank account number: 8-17 digits.
func AccountNumber(account string) bool {
	return len(account) >= 8 && len(account) <= 17 && digitsPattern.MatchString(account)
}

// Method validates the details for a payment method in a single pass,
// short-circuiting on the first invalid field. For credit cards the Luhn
// check only runs once the format checks pass, and the detected card type
// is returned alongside the result so callers can display it.
func Method(method models.PaymentMethod, details models.Details) models.ValidationResult {
	switch models.PaymentMethod(strings.ToLower(strings.TrimSpace(string(method)))) {
	case models.MethodCreditCard:
		return validateCreditCard(details)
	case models.MethodPayPal:
		return validatePayPal(details)
	case models.MethodBankTransfer:
		return validateBankTransfer(details)
	default:
		return models.ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("Unknown payment method type: %s", method),
		}
	}
}

func validateCreditCard(details models.Details) models.ValidationResult {
	number := strings.TrimSpace(details.CardNumber)
	expiry := strings.TrimSpace(details.Expiry)
	cvv := strings.TrimSpace(details.CVV)
	name := strings.TrimSpace(details.CardholderName)

	if number == "" || expiry == "" || cvv == "" || name == "" {
		return models.ValidationResult{
			Valid:    false,
			Message:  "Credit Card requires card number, expiry date, CVV, and cardholder name.",
			CardType: card.TypeUnknown,
		}
	}

	cardType := card.DetectType(number)

	if ok, msg := Expiry(expiry); !ok {
		return models.ValidationResult{Valid: false, Message: msg, CardType: cardType}
	}

	if ok, msg := CVV(cvv, cardType); !ok {
		return models.ValidationResult{Valid: false, Message: msg, CardType: cardType}
	}

	if !namePattern.MatchString(name) {
		return models.ValidationResult{
			Valid:    false,
			Message:  "Invalid cardholder name. Only letters and spaces allowed (2-50 characters).",
			CardType: cardType,
		}
	}

	// Checksum runs last: a malformed string should never reach it.
	if !card.Luhn(number) {
		return models.ValidationResult{
			Valid:    false,
			Message:  "Credit card number failed validation check.",
			CardType: cardType,
		}
	}

	return models.ValidationResult{
		Valid:    true,
		Message:  fmt.Sprintf("Valid %s credit card.", cardType),
		CardType: cardType,
	}
}

func validatePayPal(details models.Details) models.ValidationResult {
	email := strings.TrimSpace(details.Email)
	if email == "" {
		return models.ValidationResult{Valid: false, Message: "PayPal requires email address."}
	}

	if !Email(email) {
		return models.ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("Invalid PayPal email format: %s", email),
		}
	}

	return models.ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("Valid PayPal email: %s", email),
	}
}

func validateBankTransfer(details models.Details) models.ValidationResult {
	routing := strings.TrimSpace(details.RoutingNumber)
	account := strings.TrimSpace(details.AccountNumber)
	bankName := strings.TrimSpace(details.BankName)

	if routing == "" || account == "" || bankName == "" {
		return models.ValidationResult{
			Valid:   false,
			Message: "Bank Transfer requires routing number, account number, and bank name.",
		}
	}

	if !RoutingNumber(routing) {
		return models.ValidationResult{
			Valid:   false,
			Message: "Invalid routing number format. Must be 9 digits.",
		}
	}

	if !AccountNumber(account) {
		return models.ValidationResult{
			Valid:   false,
			Message: "Invalid account number format. Must be 8-17 digits.",
		}
	}

	if !bankNamePattern.MatchString(bankName) {
		return models.ValidationResult{Valid: false, Message: "Invalid bank name format."}
	}

	return models.ValidationResult{Valid: true, Message: "Valid bank transfer details."}
}
