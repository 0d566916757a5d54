package phone

import (
	"errors"
	"strings"
)

const DefaultCountryCode = "55"

var ErrInvalid = errors.New("invalid destination")

// Normalize canonicalizes raw into digits-only international form. The result
// always carries countryCode and is 12 or 13 digits long.
func Normalize(raw, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(b.String(), "0")
	if digits == "" {
		return "", ErrInvalid
	}
	if !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}
	if len(digits) < 12 || len(digits) > 13 {
		return "", ErrInvalid
	}
	return digits, nil
}
