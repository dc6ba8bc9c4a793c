package domain

import (
	"math"
	"strconv"
	"strings"
)

// ParseCents coerces untrusted numeric input into non-negative cents.
// Storefront clients and legacy catalog rows send prices as numbers or
// strings in currency units; anything unparseable collapses to 0 rather
// than failing the request.
func ParseCents(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case int64:
		return clampCents(t * 100)
	case int:
		return clampCents(int64(t) * 100)
	case float64:
		return clampCents(roundHalfUp(t * 100))
	case float32:
		return clampCents(roundHalfUp(float64(t) * 100))
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(t, "$"))
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return clampCents(roundHalfUp(f * 100))
	default:
		return 0
	}
}

// PercentCents computes pct% of amount, rounded to the cent half-up.
func PercentCents(amount int64, pct float64) int64 {
	if amount <= 0 || pct <= 0 {
		return 0
	}
	return roundHalfUp(float64(amount) * pct / 100)
}

// FormatCents renders cents as a plain currency-unit string, e.g. 2150 ->
// "21.50". Sign is preserved for negative totals.
func FormatCents(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	s := strconv.FormatInt(cents/100, 10) + "." + pad2(cents%100)
	if neg {
		return "-" + s
	}
	return s
}

func pad2(v int64) string {
	if v < 10 {
		return "0" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}

func roundHalfUp(v float64) int64 {
	if v >= 0 {
		return int64(math.Floor(v + 0.5))
	}
	return -int64(math.Floor(-v + 0.5))
}

func clampCents(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
