package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/bookhaven/payments/internal/gateway"
	"github.com/bookhaven/payments/internal/models"
	"github.com/bookhaven/payments/internal/patterns"
	"github.com/bookhaven/payments/internal/secure"
	"github.com/bookhaven/payments/internal/store"
	"github.com/bookhaven/payments/internal/threeds"
)

type fixedOutcome struct {
	outcome gateway.Outcome
}

func (f *fixedOutcome) Next() gateway.Outcome { return f.outcome }

type alwaysChallenge struct{}

func (alwaysChallenge) Decide(float64) bool { return true }

func newTestService(t *testing.T, outcome gateway.Outcome) (*PaymentService, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	records, err := store.New(filepath.Join(t.TempDir(), "payments.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { records.Close() })

	svc := &PaymentService{
		handler: secure.NewHandler(secure.Config{}),
		sim:     gateway.NewSimulator(&fixedOutcome{outcome: outcome}),
		threeDS: threeds.NewManager(threeds.Config{
			SigningKey: []byte("test-signing-key"),
			Risk:       alwaysChallenge{},
		}),
		records:  records,
		circuit:  patterns.NewCircuitBreaker("Gateway", "payment-service-test"),
		bulkhead: patterns.NewBulkhead(10, "gateway", "payment-service-test"),
	}
	return svc, setupRouter(svc)
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func validChargeRequest() models.ChargeRequest {
	return models.ChargeRequest{
		Amount:   decimal.NewFromFloat(42.50),
		Method:   models.MethodCreditCard,
		ClientID: "client-1",
		Details: models.Details{
			CardNumber:     "4532015112830366",
			Expiry:         "12/29",
			CVV:            "123",
			CardholderName: "Jane Doe",
		},
	}
}

func TestValidateEndpoint(t *testing.T) {
	_, router := newTestService(t, gateway.OutcomeSuccess)

	w := postJSON(t, router, "/payment/validate", models.ValidateRequest{
		Method:  models.MethodCreditCard,
		Details: validChargeRequest().Details,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var result models.ValidationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Valid || result.CardType != "Visa" {
		t.Errorf("result = %+v", result)
	}
}

func TestValidateEndpointRejectsBadCard(t *testing.T) {
	_, router := newTestService(t, gateway.OutcomeSuccess)

	req := models.ValidateRequest{Method: models.MethodCreditCard, Details: validChargeRequest().Details}
	req.Details.CardNumber = "4532015112830367"

	w := postJSON(t, router, "/payment/validate", req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var result models.ValidationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Valid {
		t.Error("corrupted card number passed validation")
	}
}

func TestChargeSuccessPersistsCompletedRecord(t *testing.T) {
	svc, router := newTestService(t, gateway.OutcomeSuccess)

	w := postJSON(t, router, "/payment/charge", validChargeRequest())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp models.ChargeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != models.RecordStatusCompleted {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.TransactionID == "" {
		t.Error("missing transaction id")
	}

	record, err := svc.records.Get(resp.RecordID)
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if record.Status != models.RecordStatusCompleted {
		t.Errorf("persisted status = %q", record.Status)
	}
	if record.CardLastFour != "0366" {
		t.Errorf("card last four = %q", record.CardLastFour)
	}
}

func TestChargeDeclineReturns402WithClassification(t *testing.T) {
	svc, router := newTestService(t, gateway.OutcomeDeclined)

	w := postJSON(t, router, "/payment/charge", validChargeRequest())
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp models.ChargeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ErrorCode != gateway.CodeCardDeclined {
		t.Errorf("error code = %q", resp.ErrorCode)
	}
	if resp.Severity == "" || resp.SuggestedAction == "" {
		t.Errorf("classification missing: %+v", resp)
	}

	record, err := svc.records.Get(resp.RecordID)
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if record.Status != models.RecordStatusFailed {
		t.Errorf("persisted status = %q", record.Status)
	}
}

func TestChargeDeclinesDoNotOpenCircuit(t *testing.T) {
	_, router := newTestService(t, gateway.OutcomeDeclined)

	for i := 0; i < 10; i++ {
		req := validChargeRequest()
		req.ClientID = "client-" + string(rune('a'+i))
		w := postJSON(t, router, "/payment/charge", req)
		if w.Code != http.StatusPaymentRequired {
			t.Fatalf("request %d: status = %d, want 402 every time", i, w.Code)
		}
	}
}

func TestChargeTimeoutsOpenCircuit(t *testing.T) {
	_, router := newTestService(t, gateway.OutcomeTimeout)

	sawUnavailable := false
	for i := 0; i < 10; i++ {
		req := validChargeRequest()
		req.ClientID = "client-" + string(rune('a'+i))
		w := postJSON(t, router, "/payment/charge", req)
		if w.Code == http.StatusServiceUnavailable {
			sawUnavailable = true
			break
		}
		if w.Code != http.StatusPaymentRequired {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	if !sawUnavailable {
		t.Error("circuit never opened under sustained timeouts")
	}
}

func TestChargeInvalidDetailsReturns400(t *testing.T) {
	_, router := newTestService(t, gateway.OutcomeSuccess)

	req := validChargeRequest()
	req.Details.CVV = "12"

	w := postJSON(t, router, "/payment/charge", req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestChargeRateLimitReturns429(t *testing.T) {
	_, router := newTestService(t, gateway.OutcomeSuccess)

	var last int
	for i := 0; i < 25; i++ {
		w := postJSON(t, router, "/payment/charge", validChargeRequest())
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("status after exceeding limit = %d", last)
	}
}

func TestChargeRejectsBadThreeDSToken(t *testing.T) {
	_, router := newTestService(t, gateway.OutcomeSuccess)

	req := validChargeRequest()
	req.ThreeDSToken = "not-a-token"

	w := postJSON(t, router, "/payment/charge", req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestThreeDSFlowThroughHTTP(t *testing.T) {
	_, router := newTestService(t, gateway.OutcomeSuccess)

	w := postJSON(t, router, "/3ds/initiate", map[string]interface{}{
		"card_number": "4532015112830366",
		"amount":      "750.00",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("initiate status = %d, body = %s", w.Code, w.Body.String())
	}

	var init threeds.Initiation
	if err := json.Unmarshal(w.Body.Bytes(), &init); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !init.RequiresChallenge || init.ChallengeID == "" {
		t.Fatalf("initiation = %+v", init)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/3ds/"+init.ChallengeID+"/status", nil)
	statusW := httptest.NewRecorder()
	router.ServeHTTP(statusW, statusReq)
	if statusW.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", statusW.Code)
	}

	w = postJSON(t, router, "/3ds/verify", map[string]string{
		"challenge_id": init.ChallengeID,
		"code":         init.ChallengeCode,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body = %s", w.Code, w.Body.String())
	}

	var verification threeds.Verification
	if err := json.Unmarshal(w.Body.Bytes(), &verification); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !verification.Success || verification.AuthToken == "" {
		t.Fatalf("verification = %+v", verification)
	}

	// The issued token authorizes a charge.
	chargeReq := validChargeRequest()
	chargeReq.ThreeDSToken = verification.AuthToken
	w = postJSON(t, router, "/payment/charge", chargeReq)
	if w.Code != http.StatusOK {
		t.Fatalf("charge with token status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestGetRecordNotFound(t *testing.T) {
	_, router := newTestService(t, gateway.OutcomeSuccess)

	req := httptest.NewRequest(http.MethodGet, "/payment/records/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	_, router := newTestService(t, gateway.OutcomeSuccess)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
