package validate

import (
	"fmt"
	"strings"
)

// Canonicalize normalizes a raw phone number to the digit-only
// international form the gateway expects. An international "00" prefix
// is stripped, and short national numbers get the default country code
// prepended when one is configured.
func Canonicalize(raw, defaultCountryCode string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	digits = strings.TrimPrefix(digits, "00")

	if len(digits) < 8 {
		return "", fmt.Errorf("phone number %q is too short", raw)
	}

	if defaultCountryCode != "" && !strings.HasPrefix(digits, defaultCountryCode) {
		// National numbers are at most 11 digits; anything longer
		// already carries a country code.
		if len(digits) <= 11 {
			digits = defaultCountryCode + strings.TrimPrefix(digits, "0")
		}
	}

	return digits, nil
}
