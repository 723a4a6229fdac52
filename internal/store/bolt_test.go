package store_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bookhaven/payments/internal/models"
	"github.com/bookhaven/payments/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "payments.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(id string) *models.SecurePaymentRecord {
	return &models.SecurePaymentRecord{
		ID:           id,
		Timestamp:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Method:       models.MethodCreditCard,
		Amount:       decimal.NewFromFloat(49.99),
		Currency:     "USD",
		Status:       models.RecordStatusPending,
		CardLastFour: "4242",
		CardType:     "Visa",
		PaymentToken: "TOKEN_42424242_DEADBEEF",
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(sampleRecord("rec-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get("rec-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CardLastFour != "4242" || got.Status != models.RecordStatusPending {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.Amount.Equal(decimal.NewFromFloat(49.99)) {
		t.Errorf("Amount = %s, want 49.99", got.Amount)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)

	records, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("empty store should list [], got %v", records)
	}

	for _, id := range []string{"rec-1", "rec-2", "rec-3"} {
		if err := s.Create(sampleRecord(id)); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}

	records, err = s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("List returned %d records, want 3", len(records))
	}
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(sampleRecord("rec-1")); err != nil {
		t.Fatal(err)
	}

	updated, err := s.UpdateStatus("rec-1", models.RecordStatusCompleted)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != models.RecordStatusCompleted {
		t.Errorf("Status = %q, want completed", updated.Status)
	}

	// Everything but status is untouched.
	got, _ := s.Get("rec-1")
	if got.PaymentToken != "TOKEN_42424242_DEADBEEF" || got.CardLastFour != "4242" {
		t.Errorf("immutable fields changed: %+v", got)
	}

	if _, err := s.UpdateStatus("missing", models.RecordStatusFailed); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateStatus(missing) = %v, want ErrNotFound", err)
	}
}

func TestPersistedRecordNeverHoldsPAN(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(sampleRecord("rec-1")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get("rec-1")
	if err != nil {
		t.Fatal(err)
	}

	// A redacted record has no field that could carry a 13-19 digit run.
	for _, field := range []string{got.CardLastFour, got.CardType, got.PaymentToken, got.PayPalEmail, got.AccountLastFour} {
		if hasLongDigitRun(field) {
			t.Errorf("field %q looks like a full card number", field)
		}
	}
}

func hasLongDigitRun(s string) bool {
	run := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			run++
			if run >= 13 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}
