package payments

import "strings"

// CountryPolicy restricts card acceptance by destination country. Countries
// in the PayPal-only set never see the card option at checkout.
type CountryPolicy struct {
	payPalOnly map[string]bool
}

// NewCountryPolicy builds a policy from configured ISO country codes.
func NewCountryPolicy(payPalOnlyCountries []string) *CountryPolicy {
	set := make(map[string]bool, len(payPalOnlyCountries))
	for _, code := range payPalOnlyCountries {
		normalized := strings.ToUpper(strings.TrimSpace(code))
		if normalized != "" {
			set[normalized] = true
		}
	}
	return &CountryPolicy{payPalOnly: set}
}

// PayPalOnly reports whether the destination country is restricted to the
// redirect payment path. Unknown or empty countries are unrestricted.
func (p *CountryPolicy) PayPalOnly(country string) bool {
	if p == nil {
		return false
	}
	return p.payPalOnly[strings.ToUpper(strings.TrimSpace(country))]
}
