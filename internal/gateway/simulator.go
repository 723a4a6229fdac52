// Package gateway models a payment gateway without a real network call.
// Charges draw a weighted random outcome; failures surface as the typed
// errors in this package, which the classifier turns into user-safe
// messages.
package gateway

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bookhaven/payments/internal/models"
	"github.com/bookhaven/payments/internal/validate"
)

// Outcome enumerates the results the simulated gateway can produce
type Outcome int

// Simulated gateway outcomes
const (
	OutcomeSuccess Outcome = iota
	OutcomeDeclined
	OutcomeInvalid
	OutcomeInsufficientFunds
	OutcomeTimeout
	OutcomeGeneric
)

// Weights holds the relative probability of each outcome. Values are
// relative shares, not percentages, though the default happens to sum
// to 100.
type Weights struct {
	Success           int
	Declined          int
	Invalid           int
	InsufficientFunds int
	Timeout           int
	Generic           int
}

// DefaultWeights is the demo distribution: mostly successful, with every
// failure mode appearing often enough to exercise the checkout flow.
var DefaultWeights = Weights{
	Success:           75,
	Declined:          8,
	Invalid:           5,
	InsufficientFunds: 5,
	Timeout:           4,
	Generic:           3,
}

// OutcomeSource draws simulated gateway outcomes. Tests substitute a
// deterministic implementation to force each branch.
type OutcomeSource interface {
	Next() Outcome
}

// RandomSource draws weighted outcomes from math/rand. Safe for
// concurrent use.
type RandomSource struct {
	weights Weights
	total   int
	mu      sync.Mutex
	rng     *rand.Rand
}

// NewRandomSource creates a weighted random outcome source
func NewRandomSource(w Weights) *RandomSource {
	total := w.Success + w.Declined + w.Invalid + w.InsufficientFunds + w.Timeout + w.Generic
	if total <= 0 {
		w = DefaultWeights
		total = 100
	}
	return &RandomSource{
		weights: w,
		total:   total,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next draws one outcome according to the configured weights
func (s *RandomSource) Next() Outcome {
	s.mu.Lock()
	n := s.rng.Intn(s.total)
	s.mu.Unlock()

	for _, bucket := range []struct {
		weight  int
		outcome Outcome
	}{
		{s.weights.Success, OutcomeSuccess},
		{s.weights.Declined, OutcomeDeclined},
		{s.weights.Invalid, OutcomeInvalid},
		{s.weights.InsufficientFunds, OutcomeInsufficientFunds},
		{s.weights.Timeout, OutcomeTimeout},
		{s.weights.Generic, OutcomeGeneric},
	} {
		if n < bucket.weight {
			return bucket.outcome
		}
		n -= bucket.weight
	}

	return OutcomeGeneric
}

// Simulator stands in for the payment gateway. It never performs blocking
// I/O: the only latency is the outcome draw.
type Simulator struct {
	source OutcomeSource
}

// NewSimulator creates a simulator backed by the given outcome source.
// Passing nil uses a random source with the default weights.
func NewSimulator(source OutcomeSource) *Simulator {
	if source == nil {
		source = NewRandomSource(DefaultWeights)
	}
	return &Simulator{source: source}
}

// Charge attempts a simulated payment. Details are re-validated before the
// draw regardless of what the caller checked, and InvalidPaymentMethodError
// is returned if that re-check fails. On success the confirmation message
// carries a fresh transaction identifier; on failure one of the typed
// errors in this package is returned.
func (s *Simulator) Charge(amount decimal.Decimal, method models.PaymentMethod, details models.Details) (string, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", &InvalidPaymentMethodError{}
	}
	if res := validate.Method(method, details); !res.Valid {
		return "", &InvalidPaymentMethodError{}
	}

	switch s.source.Next() {
	case OutcomeSuccess:
		return fmt.Sprintf("Payment successful! Transaction ID: %s", NewTransactionID()), nil
	case OutcomeDeclined:
		return "", &CardDeclinedError{Reason: "General decline, contact bank."}
	case OutcomeInvalid:
		return "", &InvalidPaymentMethodError{}
	case OutcomeInsufficientFunds:
		return "", &InsufficientFundsError{}
	case OutcomeTimeout:
		return "", &NetworkTimeoutError{}
	case OutcomeGeneric:
		return "", &GenericError{
			ErrorCode: CodeServerFailure,
			Message:   "An unexpected error occurred processing the transaction.",
		}
	default:
		return "", &GenericError{Message: "Unknown simulation outcome."}
	}
}

// NewTransactionID generates an opaque transaction identifier
func NewTransactionID() string {
	return "TRN-" + uuid.New().String()
}
