// Package client is the storefront-side SDK for the payment service.
// Calls go through a circuit breaker and bulkhead so a struggling
// payment service cannot drag checkout down with it.
package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/bookhaven/payments/internal/models"
	"github.com/bookhaven/payments/internal/patterns"
	"github.com/bookhaven/payments/internal/threeds"
)

// Client calls the payment service over HTTP.
type Client struct {
	http     *resty.Client
	baseURL  string
	circuit  *patterns.CircuitBreakerWrapper
	bulkhead *patterns.Bulkhead
}

// Option configures a Client.
type Option func(*Client)

// WithBulkheadSize caps the number of in-flight payment calls.
func WithBulkheadSize(size int) Option {
	return func(c *Client) {
		c.bulkhead = patterns.NewBulkhead(size, "payment", "storefront")
	}
}

// New creates a client for the payment service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetTimeout(patterns.DefaultTimeout).
			SetRetryCount(0), // No automatic retries, we handle via circuit breaker
		baseURL:  baseURL,
		circuit:  patterns.NewCircuitBreaker("Payment", "storefront"),
		bulkhead: patterns.NewBulkhead(10, "payment", "storefront"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate checks payment details without charging.
func (c *Client) Validate(method models.PaymentMethod, details models.Details) (*models.ValidationResult, error) {
	var result models.ValidationResult
	err := c.call(http.MethodPost, "/payment/validate", models.ValidateRequest{
		Method:  method,
		Details: details,
	}, &result, nil)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Charge submits a payment. A non-2xx response with a decodable body is
// returned as the ChargeResponse alongside a nil error; the caller reads
// the Status and ErrorCode fields. Transport and circuit failures return
// an error.
func (c *Client) Charge(req models.ChargeRequest) (*models.ChargeResponse, error) {
	var result models.ChargeResponse
	err := c.call(http.MethodPost, "/payment/charge", req, &result, map[int]bool{
		http.StatusPaymentRequired: true,
		http.StatusTooManyRequests: true,
		http.StatusBadRequest:      true,
		http.StatusUnauthorized:    true,
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Initiate3DS starts 3D Secure authentication for a card payment.
func (c *Client) Initiate3DS(cardNumber string, amount decimal.Decimal) (*threeds.Initiation, error) {
	body := map[string]interface{}{
		"card_number": cardNumber,
		"amount":      amount,
	}
	var result threeds.Initiation
	if err := c.call(http.MethodPost, "/3ds/initiate", body, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Verify3DS submits a challenge code. A failed verification is a normal
// response, not an error.
func (c *Client) Verify3DS(challengeID, code string) (*threeds.Verification, error) {
	body := map[string]string{
		"challenge_id": challengeID,
		"code":         code,
	}
	var result threeds.Verification
	if err := c.call(http.MethodPost, "/3ds/verify", body, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChallengeStatus polls a pending 3DS challenge.
func (c *Client) ChallengeStatus(challengeID string) (*threeds.ChallengeStatus, error) {
	var result threeds.ChallengeStatus
	if err := c.call(http.MethodGet, "/3ds/"+challengeID+"/status", nil, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Record fetches a stored payment record by id.
func (c *Client) Record(id string) (*models.SecurePaymentRecord, error) {
	var result models.SecurePaymentRecord
	if err := c.call(http.MethodGet, "/payment/records/"+id, nil, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// CircuitState reports the payment circuit's current state.
func (c *Client) CircuitState() string {
	return c.circuit.GetState()
}

// call runs one HTTP round trip through the bulkhead and circuit breaker.
// Statuses listed in accept carry a decodable business response and do
// not count as circuit failures.
func (c *Client) call(method, path string, body, out interface{}, accept map[int]bool) error {
	return c.bulkhead.Execute(func() error {
		_, cbErr := c.circuit.Execute(func() (interface{}, error) {
			req := c.http.R().SetHeader("Content-Type", "application/json")
			if body != nil {
				req.SetBody(body)
			}

			var resp *resty.Response
			var httpErr error
			switch method {
			case http.MethodGet:
				resp, httpErr = req.Get(c.baseURL + path)
			default:
				resp, httpErr = req.Post(c.baseURL + path)
			}
			if httpErr != nil {
				return nil, fmt.Errorf("HTTP error: %w", httpErr)
			}

			if resp.StatusCode() != http.StatusOK && !accept[resp.StatusCode()] {
				return nil, fmt.Errorf("payment service returned status %d: %s", resp.StatusCode(), resp.String())
			}

			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return nil, fmt.Errorf("failed to parse response: %w", err)
			}

			return nil, nil
		})
		return patterns.FormatError("Payment", cbErr)
	})
}
