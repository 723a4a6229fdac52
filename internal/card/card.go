// Package card implements card-number checksum validation and brand
// detection. Both functions are pure and safe for concurrent use.
package card

import "strings"

// Card brand names as shown to customers
const (
	TypeVisa       = "Visa"
	TypeMastercard = "Mastercard"
	TypeAmex       = "American Express"
	TypeDiscover   = "Discover"
	TypeUnknown    = "Unknown"
)

// StripNonDigits removes spaces and any other non-digit characters from a
// raw card number.
func StripNonDigits(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Luhn reports whether the card number passes the Luhn checksum. The input
// may contain spaces or punctuation; anything outside 13-19 digits fails.
// Luhn guards against accidental transcription errors, it is not a security
// measure.
func Luhn(number string) bool {
	digits := StripNonDigits(number)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
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

// DetectType returns the card brand based on the number's IIN prefix.
// Longer prefixes are checked before shorter ones so that the extended
// Mastercard range (2221-2720) and Discover's 6011/644-649 ranges win over
// any overlapping short prefix. Returns TypeUnknown for empty or
// unrecognized input.
func DetectType(number string) string {
	digits := StripNonDigits(number)
	if digits == "" {
		return TypeUnknown
	}

	if digits[0] == '4' {
		return TypeVisa
	}

	if len(digits) >= 2 {
		p2 := digits[:2]

		if p2 >= "51" && p2 <= "55" {
			return TypeMastercard
		}
		if len(digits) >= 4 {
			p4 := digits[:4]
			if p4 >= "2221" && p4 <= "2720" {
				return TypeMastercard
			}
		}

		if p2 == "34" || p2 == "37" {
			return TypeAmex
		}

		if len(digits) >= 4 && digits[:4] == "6011" {
			return TypeDiscover
		}
		if len(digits) >= 3 {
			p3 := digits[:3]
			if p3 >= "644" && p3 <= "649" {
				return TypeDiscover
			}
		}
		if p2 == "65" {
			return TypeDiscover
		}
	}

	return TypeUnknown
}
