/**
 * @description
 * Canonical phone normalization. The canonical form is digits only, prefixed
 * with the country code (e.g. "972501234567"). It is the join key for
 * customer lookup, so every raw spelling of the same number must normalize
 * to the same string.
 */
package app

import "strings"

// normalizePhone reshapes any common spelling of a phone number into the
// canonical international digits-only form. It is pure, total and idempotent:
// it does not validate number correctness, and normalizing an already
// canonical number returns it unchanged.
//
// Accepted shapes (for countryCode "972"):
//
//	"050-123-4567"    -> "972501234567"
//	"0501234567"      -> "972501234567"
//	"501234567"       -> "972501234567"
//	"+972501234567"   -> "972501234567"
//	"00972501234567"  -> "972501234567"
//	"972501234567"    -> "972501234567"
func normalizePhone(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	// International dialing prefix.
	if strings.HasPrefix(digits, "00"+countryCode) {
		digits = digits[2:]
	}
	if strings.HasPrefix(digits, countryCode) {
		return digits
	}
	// Local trunk digit is dropped before prefixing.
	digits = strings.TrimPrefix(digits, "0")
	return countryCode + digits
}
