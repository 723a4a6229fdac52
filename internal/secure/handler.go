// Package secure is the hardening layer in front of the payment pipeline:
// allow-list input sanitization, card tokenization, per-client rate
// limiting, fraud heuristics, and audit logging that never touches a full
// PAN or CVV.
package secure

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/bookhaven/payments/internal/card"
	"github.com/bookhaven/payments/internal/models"
	"github.com/bookhaven/payments/internal/validate"
)

// Defaults for the admission and fraud controls
const (
	DefaultRateLimitMax    = 20
	DefaultRateLimitWindow = time.Hour

	DefaultVelocityThreshold = 5
	DefaultVelocityWindow    = 10 * time.Minute
)

// DefaultSuspiciousAmount flags (not blocks) transactions above this value
var DefaultSuspiciousAmount = decimal.NewFromInt(1000)

// knownTestCards are publicly documented gateway test numbers; seeing one
// in live traffic is a fraud signal.
var knownTestCards = map[string]bool{
	"4111111111111111": true,
	"5555555555554444": true,
	"378282246310005":  true,
}

var (
	nameAllowList  = regexp.MustCompile(`[^a-zA-Z\s\-']`)
	digitAllowList = regexp.MustCompile(`[^\d]`)
	expiryShape    = regexp.MustCompile(`^\d{2}/\d{2}$`)
)

// RateLimitError is returned when a client exceeds the allowed attempt
// volume. Admission always fails closed.
type RateLimitError struct {
	Max    int
	Window time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: maximum %d transactions per %s allowed", e.Max, e.Window)
}

// SanitizationError is returned when a field is structurally invalid and
// cannot be safely coerced.
type SanitizationError struct {
	Field  string
	Reason string
}

func (e *SanitizationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidationError is returned by Process when the sanitized details fail
// payment method validation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Config tunes the handler. Zero values fall back to the defaults above.
type Config struct {
	RateLimitMax      int
	RateLimitWindow   time.Duration
	SuspiciousAmount  decimal.Decimal
	VelocityThreshold int
	VelocityWindow    time.Duration

	// Logger receives audit entries. Nil means the logrus standard logger.
	Logger *log.Logger
	// Now is the clock, swappable in tests. Nil means time.Now.
	Now func() time.Time
}

// Result is the outcome of the secure processing pipeline
type Result struct {
	Record         models.SecurePaymentRecord
	CardType       string
	FraudWarnings  []string
	RequiresReview bool
	Sanitized      models.Details
}

// Handler owns the mutable hardening state: the rate-limit windows and the
// per-client transaction history used by the velocity check. Both maps are
// guarded by a single mutex; entries are pruned on access and dropped when
// empty so restarts aside, the maps stay bounded.
type Handler struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	attempts map[string][]time.Time
	history  map[string][]time.Time
}

// NewHandler creates a secure payment handler
func NewHandler(cfg Config) *Handler {
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = DefaultRateLimitMax
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}
	if cfg.SuspiciousAmount.IsZero() {
		cfg.SuspiciousAmount = DefaultSuspiciousAmount
	}
	if cfg.VelocityThreshold <= 0 {
		cfg.VelocityThreshold = DefaultVelocityThreshold
	}
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = DefaultVelocityWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		cfg:      cfg,
		logger:   logger,
		now:      now,
		attempts: make(map[string][]time.Time),
		history:  make(map[string][]time.Time),
	}
}

// Sanitize applies a strict allow-list transformation to every populated
// field: digits only for card, CVV, routing and account numbers; a
// constrained character set for names and emails. Structurally invalid
// input is an error, never silently coerced.
func (h *Handler) Sanitize(details models.Details) (models.Details, error) {
	out := models.Details{}

	if details.CardNumber != "" {
		num := digitAllowList.ReplaceAllString(details.CardNumber, "")
		if len(num) < 13 || len(num) > 19 {
			return out, &SanitizationError{Field: "card number", Reason: "must be 13-19 digits"}
		}
		out.CardNumber = num
	}

	if details.CVV != "" {
		cvv := digitAllowList.ReplaceAllString(details.CVV, "")
		if len(cvv) < 3 || len(cvv) > 4 {
			return out, &SanitizationError{Field: "CVV", Reason: "must be 3 or 4 digits"}
		}
		out.CVV = cvv
	}

	if details.Expiry != "" {
		expiry := strings.TrimSpace(details.Expiry)
		if !expiryShape.MatchString(expiry) {
			return out, &SanitizationError{Field: "expiry date", Reason: "MM/YY required"}
		}
		out.Expiry = expiry
	}

	if details.CardholderName != "" {
		name := strings.TrimSpace(nameAllowList.ReplaceAllString(details.CardholderName, ""))
		if name == "" {
			return out, &SanitizationError{Field: "cardholder name", Reason: "no valid characters"}
		}
		out.CardholderName = name
	}

	if details.Email != "" {
		email := strings.ToLower(strings.TrimSpace(details.Email))
		if !validate.Email(email) {
			return out, &SanitizationError{Field: "email", Reason: "malformed address"}
		}
		out.Email = email
	}

	if details.RoutingNumber != "" {
		routing := digitAllowList.ReplaceAllString(details.RoutingNumber, "")
		if !validate.RoutingNumber(routing) {
			return out, &SanitizationError{Field: "routing number", Reason: "must be 9 digits"}
		}
		out.RoutingNumber = routing
	}

	if details.AccountNumber != "" {
		account := digitAllowList.ReplaceAllString(details.AccountNumber, "")
		if !validate.AccountNumber(account) {
			return out, &SanitizationError{Field: "account number", Reason: "must be 8-17 digits"}
		}
		out.AccountNumber = account
	}

	if details.BankName != "" {
		bank := strings.TrimSpace(details.BankName)
		if bank == "" {
			return out, &SanitizationError{Field: "bank name", Reason: "empty"}
		}
		out.BankName = bank
	}

	return out, nil
}

// SanitizeAmount normalizes a charge amount to two decimal places and
// rejects non-positive values.
func SanitizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, &SanitizationError{Field: "amount", Reason: "must be positive"}
	}
	return amount.Round(2), nil
}

// TokenizeCard derives a non-reversible reference for a card number: a
// salted SHA-256 digest framed by the first and last four digits. The
// token stands in for the PAN in every downstream record and log line.
func (h *Handler) TokenizeCard(cardNumber string) string {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		// Salt quality degrades but tokens must still be issued.
		copy(salt, fmt.Sprintf("%x", h.now().UnixNano()))
	}

	sum := sha256.Sum256(append([]byte(cardNumber), salt...))
	digest := strings.ToUpper(hex.EncodeToString(sum[:])[:8])

	token := fmt.Sprintf("TOKEN_%s%s_%s", cardNumber[:4], cardNumber[len(cardNumber)-4:], digest)

	h.logger.WithField("token", token).Info("Payment token generated")
	return token
}

// CheckRateLimit applies the per-client sliding window. An allowed attempt
// is recorded immediately so it counts against the next check; a denied
// attempt is not, and the caller must stop.
func (h *Handler) CheckRateLimit(clientID string) error {
	now := h.now()
	cutoff := now.Add(-h.cfg.RateLimitWindow)

	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.attempts[clientID][:0]
	for _, at := range h.attempts[clientID] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= h.cfg.RateLimitMax {
		h.attempts[clientID] = kept
		return &RateLimitError{Max: h.cfg.RateLimitMax, Window: h.cfg.RateLimitWindow}
	}

	h.attempts[clientID] = append(kept, now)
	return nil
}

// DetectFraud scans a sanitized payment for fraud indicators. Indicators
// flag the transaction for review, they never block it: amount above the
// suspicious threshold, client velocity above the limit, known test card
// numbers, and repeated trailing digits.
func (h *Handler) DetectFraud(amount decimal.Decimal, details models.Details, clientID string) []string {
	var warnings []string

	if amount.GreaterThan(h.cfg.SuspiciousAmount) {
		warnings = append(warnings, fmt.Sprintf("High amount transaction: $%s", amount.StringFixed(2)))
	}

	now := h.now()
	cutoff := now.Add(-h.cfg.VelocityWindow)

	h.mu.Lock()
	recent := h.history[clientID][:0]
	for _, at := range h.history[clientID] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) >= h.cfg.VelocityThreshold {
		warnings = append(warnings, "High transaction velocity detected")
	}
	h.history[clientID] = append(recent, now)
	h.mu.Unlock()

	if details.CardNumber != "" {
		if knownTestCards[details.CardNumber] {
			warnings = append(warnings, "Test card number detected")
		}
		if sameTrailingDigits(details.CardNumber) {
			warnings = append(warnings, "Suspicious card number pattern detected")
		}
	}

	return warnings
}

// NewRecord builds the redacted, persistable view of a payment attempt.
// Cards keep only last four, brand, holder name, and a derived token; the
// CVV is validation-only and never leaves the request. Bank transfers keep
// the bank name and the account's last four.
func (h *Handler) NewRecord(method models.PaymentMethod, amount decimal.Decimal, details models.Details) models.SecurePaymentRecord {
	record := models.SecurePaymentRecord{
		ID:        uuid.New().String(),
		Timestamp: h.now().UTC(),
		Method:    method,
		Amount:    amount.Round(2),
		Currency:  "USD",
		Status:    models.RecordStatusPending,
	}

	switch method {
	case models.MethodCreditCard:
		if details.CardNumber != "" {
			record.CardLastFour = lastFour(details.CardNumber)
			record.CardType = card.DetectType(details.CardNumber)
			record.PaymentToken = h.TokenizeCard(details.CardNumber)
		}
		record.CardholderName = details.CardholderName
	case models.MethodPayPal:
		record.PayPalEmail = details.Email
	case models.MethodBankTransfer:
		record.BankName = details.BankName
		record.AccountLastFour = lastFour(details.AccountNumber)
	}

	return record
}

// Process runs the full hardening pipeline for one payment attempt:
// rate-limit admission, sanitization, method validation, fraud scan, and
// record construction. The simulated gateway call happens after this,
// driven by the caller; Process never charges anything itself.
func (h *Handler) Process(amount decimal.Decimal, method models.PaymentMethod, details models.Details, clientID string) (*Result, error) {
	if err := h.CheckRateLimit(clientID); err != nil {
		h.LogAttempt(method, amount, details, clientID, "rate_limited", err.Error())
		return nil, err
	}

	amount, err := SanitizeAmount(amount)
	if err != nil {
		h.LogAttempt(method, amount, details, clientID, "rejected", err.Error())
		return nil, err
	}

	sanitized, err := h.Sanitize(details)
	if err != nil {
		h.LogAttempt(method, amount, models.Details{}, clientID, "rejected", err.Error())
		return nil, err
	}

	if res := validate.Method(method, sanitized); !res.Valid {
		h.LogAttempt(method, amount, sanitized, clientID, "rejected", res.Message)
		return nil, &ValidationError{Message: res.Message}
	}

	warnings := h.DetectFraud(amount, sanitized, clientID)
	result := &Result{
		Record:         h.NewRecord(method, amount, sanitized),
		CardType:       card.DetectType(sanitized.CardNumber),
		FraudWarnings:  warnings,
		RequiresReview: len(warnings) > 0,
		Sanitized:      sanitized,
	}

	if result.RequiresReview {
		h.logger.WithFields(log.Fields{
			"record_id": result.Record.ID,
			"warnings":  warnings,
		}).Warn("Fraud indicators detected")
	}

	return result, nil
}

// LogAttempt writes an audit entry for a payment attempt. Only
// non-sensitive fields are logged: amount, method, brand, last four, and
// the outcome. Never the PAN, CVV, or full account number.
func (h *Handler) LogAttempt(method models.PaymentMethod, amount decimal.Decimal, details models.Details, clientID, result, errMsg string) {
	fields := log.Fields{
		"payment_method": string(method),
		"amount":         amount.StringFixed(2),
		"client_id":      clientID,
		"result":         result,
	}
	if details.CardNumber != "" {
		fields["card_last_four"] = lastFour(details.CardNumber)
		fields["card_type"] = card.DetectType(details.CardNumber)
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}

	if result == "success" {
		h.logger.WithFields(fields).Info("Payment attempt")
	} else {
		h.logger.WithFields(fields).Warn("Payment attempt")
	}
}

func sameTrailingDigits(cardNumber string) bool {
	if len(cardNumber) < 4 {
		return false
	}
	tail := cardNumber[len(cardNumber)-4:]
	return strings.Count(tail, tail[:1]) == 4
}

func lastFour(number string) string {
	if len(number) < 4 {
		return number
	}
	return number[len(number)-4:]
}
