// Package threeds simulates a 3-D Secure challenge/response flow: a
// pre-authorization step the checkout runs before the charge itself. A real
// deployment would hand this off to an ACS provider; here the whole
// challenge lifecycle is modeled in process.
package threeds

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

// Challenge session statuses
const (
	StatusPending       = "pending"
	StatusAuthenticated = "authenticated"
	StatusFailed        = "failed"
	StatusExpired       = "expired"
)

// ChallengeTTL is how long a customer has to complete a challenge
const ChallengeTTL = 5 * time.Minute

// MaxAttempts is the number of code submissions allowed per challenge
const MaxAttempts = 3

// AuthTokenTTL bounds how long an issued authentication token stays valid
const AuthTokenTTL = 15 * time.Minute

// alwaysChallengeAmount is the step-up threshold: transactions at or above
// it are always challenged, mirroring SCA-style regulation.
var alwaysChallengeAmount = decimal.NewFromInt(500)

// RiskSource decides whether a risk-based step-up fires for a given
// probability. Tests substitute a deterministic implementation.
type RiskSource interface {
	Decide(probability float64) bool
}

type randomRisk struct {
	mu  sync.Mutex
	rng *mrand.Rand
}

func (r *randomRisk) Decide(probability float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64() < probability
}

// Initiation is the result of starting 3DS authentication for a card.
type Initiation struct {
	RequiresChallenge bool   `json:"requires_challenge"`
	ChallengeID       string `json:"challenge_id"`
	ChallengeMethod   string `json:"challenge_method,omitempty"`
	// ChallengeCode is exposed only because this gateway is a simulation
	// and nothing delivers the code out of band. A real 3DS integration
	// must never return the code to the caller.
	ChallengeCode        string `json:"challenge_code,omitempty"`
	AuthenticationStatus string `json:"authentication_status,omitempty"`
	Message              string `json:"message"`
	ExpiresIn            int    `json:"expires_in,omitempty"`
}

// Verification is the result of submitting a challenge code.
type Verification struct {
	Success              bool   `json:"success"`
	AuthenticationStatus string `json:"authentication_status"`
	AuthToken            string `json:"auth_token,omitempty"`
	Message              string `json:"message,omitempty"`
	Error                string `json:"error,omitempty"`
	AttemptsRemaining    int    `json:"attempts_remaining,omitempty"`
}

// ChallengeStatus is a read-only projection of a session's state.
type ChallengeStatus struct {
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	Attempts      int       `json:"attempts"`
	TimeRemaining float64   `json:"time_remaining"`
}

type session struct {
	cardLastFour  string
	amount        decimal.Decimal
	challengeCode string
	createdAt     time.Time
	expiresAt     time.Time
	attempts      int
	status        string
}

// Config carries the manager's injectable collaborators. Zero values get
// sensible defaults.
type Config struct {
	// SigningKey signs issued authentication tokens. Required.
	SigningKey []byte
	// Risk decides probabilistic step-up. Nil means math/rand.
	Risk RiskSource
	// Now is the clock, swappable in tests. Nil means time.Now.
	Now func() time.Time
}

// Manager owns the challenge-session store. All methods are safe for
// concurrent use; per-session mutation happens under the manager lock so
// attempt counting stays atomic across concurrent verifications.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	signingKey []byte
	risk       RiskSource
	now        func() time.Time
}

// NewManager creates a challenge-session manager
func NewManager(cfg Config) *Manager {
	risk := cfg.Risk
	if risk == nil {
		risk = &randomRisk{rng: mrand.New(mrand.NewSource(time.Now().UnixNano()))}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessions:   make(map[string]*session),
		signingKey: cfg.SigningKey,
		risk:       risk,
		now:        now,
	}
}

// Initiate starts 3DS authentication for a card payment. High-value
// transactions always get a challenge; below the threshold the challenge
// probability scales with the amount. Frictionless outcomes create no
// session: there is nothing left to verify.
func (m *Manager) Initiate(cardNumber string, amount decimal.Decimal) Initiation {
	challengeID := newChallengeID()

	if !m.requiresChallenge(amount) {
		return Initiation{
			RequiresChallenge:    false,
			ChallengeID:          challengeID,
			AuthenticationStatus: StatusAuthenticated,
			Message:              "3D Secure authentication completed (frictionless)",
		}
	}

	code := newChallengeCode()
	now := m.now()

	m.mu.Lock()
	m.sessions[challengeID] = &session{
		cardLastFour:  lastFour(cardNumber),
		amount:        amount,
		challengeCode: code,
		createdAt:     now,
		expiresAt:     now.Add(ChallengeTTL),
		status:        StatusPending,
	}
	m.mu.Unlock()

	return Initiation{
		RequiresChallenge: true,
		ChallengeID:       challengeID,
		ChallengeMethod:   "SMS",
		ChallengeCode:     code,
		Message:           "3D Secure challenge initiated. Code sent to registered mobile number.",
		ExpiresIn:         int(ChallengeTTL.Seconds()),
	}
}

// Verify checks a submitted challenge code. Expired sessions are evicted on
// lookup; a session that exhausts its attempts fails permanently even if a
// later submission carries the correct code.
func (m *Manager) Verify(challengeID, providedCode string) Verification {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[challengeID]
	if !ok {
		return Verification{
			Success:              false,
			AuthenticationStatus: StatusFailed,
			Error:                "Invalid or expired challenge session",
		}
	}

	if m.now().After(s.expiresAt) {
		delete(m.sessions, challengeID)
		return Verification{
			Success:              false,
			AuthenticationStatus: StatusExpired,
			Error:                "3D Secure challenge has expired",
		}
	}

	s.attempts++
	if s.attempts > MaxAttempts {
		s.status = StatusFailed
		return Verification{
			Success:              false,
			AuthenticationStatus: StatusFailed,
			Error:                "Too many failed attempts",
		}
	}

	if providedCode == s.challengeCode {
		s.status = StatusAuthenticated

		token, err := m.issueToken(challengeID, s)
		if err != nil {
			return Verification{
				Success:              false,
				AuthenticationStatus: StatusFailed,
				Error:                "failed to issue authentication token",
			}
		}

		return Verification{
			Success:              true,
			AuthenticationStatus: StatusAuthenticated,
			AuthToken:            token,
			Message:              "3D Secure authentication successful",
		}
	}

	remaining := MaxAttempts - s.attempts
	return Verification{
		Success:              false,
		AuthenticationStatus: "challenge_failed",
		Error:                fmt.Sprintf("Incorrect challenge code. %d attempts remaining", remaining),
		AttemptsRemaining:    remaining,
	}
}

// Status returns a read-only view of a challenge session. It never mutates
// the session, not even to evict an expired one.
func (m *Manager) Status(challengeID string) (ChallengeStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[challengeID]
	if !ok {
		return ChallengeStatus{}, false
	}

	remaining := s.expiresAt.Sub(m.now()).Seconds()
	if remaining < 0 {
		remaining = 0
	}

	return ChallengeStatus{
		Status:        s.status,
		ExpiresAt:     s.expiresAt,
		Attempts:      s.attempts,
		TimeRemaining: remaining,
	}, true
}

// Sweep evicts expired and terminal sessions, returning how many were
// removed. The service runs this on a ticker so the store stays bounded
// even when abandoned challenges are never looked up again.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if now.After(s.expiresAt) || s.status == StatusAuthenticated || s.status == StatusFailed {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// requiresChallenge applies the documented step-up heuristic:
// amount >= 500 always challenges; under 100 challenges 30% of the time,
// under 250 challenges 60%, and everything else 80%.
func (m *Manager) requiresChallenge(amount decimal.Decimal) bool {
	if amount.GreaterThanOrEqual(alwaysChallengeAmount) {
		return true
	}

	switch {
	case amount.LessThan(decimal.NewFromInt(100)):
		return m.risk.Decide(0.3)
	case amount.LessThan(decimal.NewFromInt(250)):
		return m.risk.Decide(0.6)
	default:
		return m.risk.Decide(0.8)
	}
}

func (m *Manager) issueToken(challengeID string, s *session) (string, error) {
	now := m.now()
	claims := jwt.MapClaims{
		"challenge_id":   challengeID,
		"card_last_four": s.cardLastFour,
		"amount":         s.amount.StringFixed(2),
		"iat":            now.Unix(),
		"exp":            now.Add(AuthTokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
}

// VerifyToken checks a previously issued authentication token and returns
// the challenge id it was bound to. The charge path uses this to confirm a
// completed step-up without rereading session state.
func (m *Manager) VerifyToken(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid authentication token")
	}
	challengeID, _ := claims["challenge_id"].(string)
	if challengeID == "" {
		return "", fmt.Errorf("authentication token missing challenge id")
	}
	return challengeID, nil
}

func newChallengeID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the host is broken; fall back to a
		// time-derived id rather than panicking mid-checkout.
		return fmt.Sprintf("3DS_%X", time.Now().UnixNano())
	}
	return "3DS_" + strings.ToUpper(hex.EncodeToString(buf))
}

func newChallengeCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return fmt.Sprintf("%06d", time.Now().UnixNano()%900000+100000)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000)
}

func lastFour(number string) string {
	if len(number) < 4 {
		return number
	}
	return number[len(number)-4:]
}
