package normalize

import "strings"

const DefaultCountryCode = "32"

var phoneStripper = strings.NewReplacer(
	" ", "", "\t", "", "\u00a0", "",
	".", "", "-", "", "/", "",
	"(", "", ")", "",
)

// PhoneNormalizer rewrites national numbers into international form for one
// numbering plan. Only the 10-digit trunk form and the 9-digit subscriber
// form are recognised; other countries' numbers come out as "+" and digits
// and are not validated.
type PhoneNormalizer struct {
	CountryCode string
}

func NewPhoneNormalizer(countryCode string) PhoneNormalizer {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	return PhoneNormalizer{CountryCode: countryCode}
}

// Normalize returns false when nothing is left after stripping separators.
func (p PhoneNormalizer) Normalize(raw string) (string, bool) {
	cleaned := phoneStripper.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return "", false
	}

	cc := p.CountryCode
	if cc == "" {
		cc = DefaultCountryCode
	}

	switch {
	case strings.HasPrefix(cleaned, "+"):
		return cleaned, true
	case strings.HasPrefix(cleaned, "00"):
		return "+" + cleaned[2:], true
	case len(cleaned) == 10 && cleaned[0] == '0' && allDigits(cleaned):
		return "+" + cc + cleaned[1:], true
	case len(cleaned) == 9 && cleaned[0] != '0' && allDigits(cleaned):
		return "+" + cc + cleaned, true
	}
	return "+" + cleaned, true
}

// Phone normalises with the default country code.
func Phone(raw string) (string, bool) {
	return PhoneNormalizer{CountryCode: DefaultCountryCode}.Normalize(raw)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
