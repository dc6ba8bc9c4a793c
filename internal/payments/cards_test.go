package payments

import (
	"strings"
	"testing"
	"time"

	domain "github.com/axleworks/api/internal/domain"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func validCardFields() domain.PaymentFields {
	return domain.PaymentFields{
		CardNumber: "4242 4242 4242 4242",
		NameOnCard: "Dana Ruiz",
		ExpMonth:   12,
		ExpYear:    2028,
		CVV:        "123",
	}
}

func TestDetectBrand(t *testing.T) {
	cases := []struct {
		number string
		want   CardBrand
	}{
		{"4242424242424242", BrandVisa},
		{"5555555555554444", BrandMastercard},
		{"2223003122003222", BrandMastercard},
		{"378282246310005", BrandAmex},
		{"6011111111111117", BrandDiscover},
		{"6511111111111119", BrandDiscover},
		{"9999999999999999", BrandUnknown},
		{"", BrandUnknown},
	}
	for _, tc := range cases {
		if got := DetectBrand(tc.number); got != tc.want {
			t.Fatalf("DetectBrand(%q) = %s, want %s", tc.number, got, tc.want)
		}
	}
}

func TestValidateCardSuccess(t *testing.T) {
	meta, problems := ValidateCard(validCardFields(), testNow)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if meta.Brand != "visa" || meta.Last4 != "4242" {
		t.Fatalf("meta = %+v", meta)
	}
	if meta.ExpMonth != 12 || meta.ExpYear != 2028 {
		t.Fatalf("expiry not carried: %+v", meta)
	}
}

func TestValidateCardLuhnFailure(t *testing.T) {
	fields := validCardFields()
	fields.CardNumber = "4242424242424241"
	_, problems := ValidateCard(fields, testNow)
	if len(problems) == 0 || !strings.Contains(problems[0], "not valid") {
		t.Fatalf("expected checksum failure, got %v", problems)
	}
}

func TestValidateCardExpiry(t *testing.T) {
	fields := validCardFields()
	fields.ExpMonth = 4
	fields.ExpYear = 2026
	_, problems := ValidateCard(fields, testNow)
	if len(problems) != 1 || problems[0] != "card is expired" {
		t.Fatalf("expected expired card, got %v", problems)
	}

	// The card stays valid through the end of its expiry month.
	fields.ExpMonth = 5
	if _, problems := ValidateCard(fields, testNow); len(problems) != 0 {
		t.Fatalf("card expiring this month rejected: %v", problems)
	}
}

func TestValidateCardCVVByBrand(t *testing.T) {
	fields := validCardFields()
	fields.CardNumber = "378282246310005"
	fields.CVV = "123"
	_, problems := ValidateCard(fields, testNow)
	if len(problems) != 1 {
		t.Fatalf("expected amex cvv mismatch, got %v", problems)
	}
	fields.CVV = "1234"
	if _, problems := ValidateCard(fields, testNow); len(problems) != 0 {
		t.Fatalf("amex 4-digit cvv rejected: %v", problems)
	}
}

func TestValidateCardConsolidatesProblems(t *testing.T) {
	_, problems := ValidateCard(domain.PaymentFields{}, testNow)
	if len(problems) < 3 {
		t.Fatalf("expected consolidated problems, got %v", problems)
	}
}
