package validate_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bookhaven/payments/internal/card"
	"github.com/bookhaven/payments/internal/models"
	"github.com/bookhaven/payments/internal/validate"
)

// expiryFrom formats a time as MM/YY the way a checkout form would
func expiryFrom(t time.Time) string {
	return fmt.Sprintf("%02d/%02d", int(t.Month()), t.Year()%100)
}

func firstOfCurrentMonth() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func TestExpiryBoundaries(t *testing.T) {
	current := firstOfCurrentMonth()

	if ok, msg := validate.Expiry(expiryFrom(current)); !ok {
		t.Errorf("card expiring this month should be valid, got: %s", msg)
	}

	if ok, _ := validate.Expiry(expiryFrom(current.AddDate(0, -1, 0))); ok {
		t.Error("card that expired last month should be invalid")
	}

	if ok, _ := validate.Expiry(expiryFrom(current.AddDate(1, 0, 0))); !ok {
		t.Error("card expiring next year should be valid")
	}

	if ok, msg := validate.Expiry(expiryFrom(current.AddDate(25, 0, 0))); ok {
		t.Errorf("expiry 25 years out should be rejected, got: %s", msg)
	}
}

func TestExpiryFormat(t *testing.T) {
	cases := []string{"13/25", "00/30", "2025-01", "1/30", "12/2030", "ab/cd", ""}
	for _, expiry := range cases {
		if ok, _ := validate.Expiry(expiry); ok {
			t.Errorf("Expiry(%q) should be invalid", expiry)
		}
	}

	if _, msg := validate.Expiry("2025-01"); !strings.Contains(msg, "MM/YY") {
		t.Errorf("format error should mention expected shape, got: %s", msg)
	}
	if _, msg := validate.Expiry("13/99"); !strings.Contains(msg, "month") {
		t.Errorf("month 13 should fail the month check, got: %s", msg)
	}
}

func TestCVVLengthByBrand(t *testing.T) {
	cases := []struct {
		cvv      string
		cardType string
		want     bool
	}{
		{"123", card.TypeVisa, true},
		{"123", card.TypeMastercard, true},
		{"123", card.TypeDiscover, true},
		{"1234", card.TypeVisa, false},
		{"1234", card.TypeAmex, true},
		{"123", card.TypeAmex, false},
		{"12a", card.TypeVisa, false},
		{"", card.TypeVisa, false},
		{"12345", card.TypeAmex, false},
	}

	for _, tc := range cases {
		got, msg := validate.CVV(tc.cvv, tc.cardType)
		if got != tc.want {
			t.Errorf("CVV(%q, %s) = %v (%s), want %v", tc.cvv, tc.cardType, got, msg, tc.want)
		}
	}
}

func TestEmail(t *testing.T) {
	valid := []string{"buyer@example.com", "first.last+tag@books.co.uk"}
	invalid := []string{"no-at-sign.com", "user@nodot", "user@@example.com", "", "user@.com a"}

	for _, e := range valid {
		if !validate.Email(e) {
			t.Errorf("Email(%q) = false, want true", e)
		}
	}
	for _, e := range invalid {
		if validate.Email(e) {
			t.Errorf("Email(%q) = true, want false", e)
		}
	}
}

func validCard() models.Details {
	return models.Details{
		CardNumber:     "4242424242424242",
		Expiry:         expiryFrom(firstOfCurrentMonth().AddDate(2, 0, 0)),
		CVV:            "123",
		CardholderName: "Jane Reader",
	}
}

func TestMethodCreditCard(t *testing.T) {
	res := validate.Method(models.MethodCreditCard, validCard())
	if !res.Valid {
		t.Fatalf("valid card rejected: %s", res.Message)
	}
	if res.CardType != card.TypeVisa {
		t.Errorf("CardType = %q, want Visa", res.CardType)
	}

	// Amex with its 4-digit CVV
	amex := validCard()
	amex.CardNumber = "378282246310005"
	amex.CVV = "1234"
	if res := validate.Method(models.MethodCreditCard, amex); !res.Valid {
		t.Errorf("valid Amex rejected: %s", res.Message)
	}

	// Luhn failure only reached after format checks pass
	badChecksum := validCard()
	badChecksum.CardNumber = "4242424242424243"
	res = validate.Method(models.MethodCreditCard, badChecksum)
	if res.Valid {
		t.Error("bad checksum accepted")
	}
	if !strings.Contains(res.Message, "validation check") {
		t.Errorf("expected checksum message, got: %s", res.Message)
	}

	missing := validCard()
	missing.CVV = ""
	if res := validate.Method(models.MethodCreditCard, missing); res.Valid {
		t.Error("missing CVV accepted")
	}

	badName := validCard()
	badName.CardholderName = "R0b0t; DROP TABLE"
	if res := validate.Method(models.MethodCreditCard, badName); res.Valid {
		t.Error("invalid cardholder name accepted")
	}
}

func TestMethodPayPal(t *testing.T) {
	res := validate.Method(models.MethodPayPal, models.Details{Email: "buyer@example.com"})
	if !res.Valid {
		t.Fatalf("valid PayPal email rejected: %s", res.Message)
	}

	if res := validate.Method(models.MethodPayPal, models.Details{Email: "not-an-email"}); res.Valid {
		t.Error("malformed email accepted")
	}
	if res := validate.Method(models.MethodPayPal, models.Details{}); res.Valid {
		t.Error("missing email accepted")
	}
}

func TestMethodBankTransfer(t *testing.T) {
	good := models.Details{
		RoutingNumber: "021000021",
		AccountNumber: "123456789012",
		BankName:      "First Chapter Bank & Trust",
	}
	if res := validate.Method(models.MethodBankTransfer, good); !res.Valid {
		t.Fatalf("valid bank details rejected: %s", res.Message)
	}

	cases := []struct {
		name   string
		mutate func(*models.Details)
	}{
		{"short routing", func(d *models.Details) { d.RoutingNumber = "12345678" }},
		{"alpha routing", func(d *models.Details) { d.RoutingNumber = "02100002a" }},
		{"short account", func(d *models.Details) { d.AccountNumber = "1234567" }},
		{"long account", func(d *models.Details) { d.AccountNumber = "123456789012345678" }},
		{"bad bank name", func(d *models.Details) { d.BankName = "B4nk #1!" }},
		{"missing bank name", func(d *models.Details) { d.BankName = "" }},
	}
	for _, tc := range cases {
		d := good
		tc.mutate(&d)
		if res := validate.Method(models.MethodBankTransfer, d); res.Valid {
			t.Errorf("%s accepted", tc.name)
		}
	}
}

func TestMethodTotality(t *testing.T) {
	// Unknown methods report, they never panic.
	for _, m := range []models.PaymentMethod{"", "crypto", "CREDIT-CARD", "wire"} {
		res := validate.Method(m, models.Details{})
		if res.Valid {
			t.Errorf("Method(%q) accepted", m)
		}
		if m != "" && !strings.Contains(res.Message, string(m)) {
			t.Errorf("message should name the unknown method %q, got: %s", m, res.Message)
		}
	}

	// Method names are case-insensitive the way the original checkout sent them.
	res := validate.Method("Credit_Card", validCard())
	if !res.Valid {
		t.Errorf("mixed-case method name rejected: %s", res.Message)
	}
}
