package messaging

import "strings"

const venezuelaCode = "58"

// NormalizePhone reduces a phone number to the international digit-only form
// WhatsApp uses: "0414-123.45.67" and "+58 414 1234567" both become "584141234567".
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "00"):
		return strings.TrimPrefix(digits, "00")
	case strings.HasPrefix(digits, "0") && len(digits) == 11:
		return venezuelaCode + digits[1:]
	case len(digits) == 10 && !strings.HasPrefix(digits, venezuelaCode):
		return venezuelaCode + digits
	}
	return digits
}

// PhoneVariants returns the spellings a stored phone may use for the same number
func PhoneVariants(raw string) []string {
	normalized := NormalizePhone(raw)
	if normalized == "" {
		return nil
	}
	variants := []string{normalized}
	if local := strings.TrimPrefix(normalized, venezuelaCode); local != normalized {
		variants = append(variants, "0"+local, local)
	}
	return variants
}
