package payments

import (
	"strings"
	"time"

	domain "github.com/axleworks/api/internal/domain"
)

// CardBrand identifies the detected card network.
type CardBrand string

const (
	// BrandVisa is the Visa network.
	BrandVisa CardBrand = "visa"
	// BrandMastercard is the Mastercard network.
	BrandMastercard CardBrand = "mastercard"
	// BrandAmex is the American Express network.
	BrandAmex CardBrand = "amex"
	// BrandDiscover is the Discover network.
	BrandDiscover CardBrand = "discover"
	// BrandUnknown is returned when no network matches.
	BrandUnknown CardBrand = "unknown"
)

// digitsOnly strips spaces and dashes from a typed card number.
func digitsOnly(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DetectBrand identifies the network from the leading digits.
func DetectBrand(number string) CardBrand {
	n := digitsOnly(number)
	switch {
	case len(n) == 0:
		return BrandUnknown
	case n[0] == '4':
		return BrandVisa
	case len(n) >= 2 && (n[:2] >= "51" && n[:2] <= "55"):
		return BrandMastercard
	case len(n) >= 4 && (n[:4] >= "2221" && n[:4] <= "2720"):
		return BrandMastercard
	case len(n) >= 2 && (n[:2] == "34" || n[:2] == "37"):
		return BrandAmex
	case len(n) >= 4 && n[:4] == "6011":
		return BrandDiscover
	case len(n) >= 2 && n[:2] == "65":
		return BrandDiscover
	case len(n) >= 3 && (n[:3] >= "644" && n[:3] <= "649"):
		return BrandDiscover
	default:
		return BrandUnknown
	}
}

// luhnValid runs the standard checksum over the digit string.
func luhnValid(n string) bool {
	if len(n) == 0 {
		return false
	}
	sum := 0
	double := false
	for i := len(n) - 1; i >= 0; i-- {
		d := int(n[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func brandLengthValid(brand CardBrand, length int) bool {
	switch brand {
	case BrandVisa:
		return length == 13 || length == 16 || length == 19
	case BrandMastercard, BrandDiscover:
		return length == 16
	case BrandAmex:
		return length == 15
	default:
		return false
	}
}

func cvvLength(brand CardBrand) int {
	if brand == BrandAmex {
		return 4
	}
	return 3
}

// ValidateCard checks a full card entry and returns the persistable metadata
// plus every problem found, as user-displayable fragments. The raw number and
// CVV never leave this function.
func ValidateCard(fields domain.PaymentFields, now time.Time) (domain.CardMeta, []string) {
	var problems []string

	number := digitsOnly(fields.CardNumber)
	brand := DetectBrand(number)
	switch {
	case number == "":
		problems = append(problems, "card number is required")
	case brand == BrandUnknown:
		problems = append(problems, "card number is not from a supported network")
	case !brandLengthValid(brand, len(number)) || !luhnValid(number):
		problems = append(problems, "card number is not valid")
	}

	if strings.TrimSpace(fields.NameOnCard) == "" {
		problems = append(problems, "name on card is required")
	}

	switch {
	case fields.ExpMonth < 1 || fields.ExpMonth > 12 || fields.ExpYear == 0:
		problems = append(problems, "expiration date is not valid")
	default:
		endOfMonth := time.Date(fields.ExpYear, time.Month(fields.ExpMonth), 1, 0, 0, 0, 0, time.UTC).
			AddDate(0, 1, 0)
		if !now.Before(endOfMonth) {
			problems = append(problems, "card is expired")
		}
	}

	cvv := strings.TrimSpace(fields.CVV)
	switch {
	case cvv == "":
		problems = append(problems, "security code is required")
	case brand != BrandUnknown && len(cvv) != cvvLength(brand):
		problems = append(problems, "security code length does not match the card type")
	}

	meta := domain.CardMeta{
		Brand:    string(brand),
		ExpMonth: fields.ExpMonth,
		ExpYear:  fields.ExpYear,
	}
	if len(number) >= 4 {
		meta.Last4 = number[len(number)-4:]
	}
	return meta, problems
}
