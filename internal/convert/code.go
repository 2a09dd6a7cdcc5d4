package convert

import (
	"fmt"
	"regexp"
	"strings"
)

// Exchange identifies the listing venue for a mainland security.
type Exchange string

const (
	ExchangeShanghai Exchange = "SH"
	ExchangeShenzhen Exchange = "SZ"
	ExchangeBeijing  Exchange = "BJ"
)

var bareCode = regexp.MustCompile(`^\d{6}$`)

// ExchangeFor assigns an exchange from the numeric prefix of a bare
// six-digit code. 60/68 main board + STAR and 5x funds trade in Shanghai,
// 00/30 and 12x convertibles in Shenzhen, 4/8 on the Beijing exchange.
func ExchangeFor(code string) (Exchange, error) {
	if !bareCode.MatchString(code) {
		return "", fmt.Errorf("not a six-digit code: %q", code)
	}
	switch {
	case strings.HasPrefix(code, "60"),
		strings.HasPrefix(code, "68"),
		strings.HasPrefix(code, "5"):
		return ExchangeShanghai, nil
	case strings.HasPrefix(code, "00"),
		strings.HasPrefix(code, "30"),
		strings.HasPrefix(code, "12"):
		return ExchangeShenzhen, nil
	case strings.HasPrefix(code, "4"), strings.HasPrefix(code, "8"):
		return ExchangeBeijing, nil
	default:
		return "", fmt.Errorf("unknown exchange for code %q", code)
	}
}

// NormalizeCode reduces any supported representation to the bare six-digit
// form. Accepted inputs: "600000", "SH600000", "600000.SH", "1.600000".
// Normalization is idempotent; unrecognized input is returned trimmed.
func NormalizeCode(code string) string {
	c := strings.TrimSpace(strings.ToUpper(code))
	if bareCode.MatchString(c) {
		return c
	}
	// Exchange prefix form: SH600000.
	for _, ex := range []Exchange{ExchangeShanghai, ExchangeShenzhen, ExchangeBeijing} {
		if strings.HasPrefix(c, string(ex)) && bareCode.MatchString(c[2:]) {
			return c[2:]
		}
	}
	// Vendor suffix form: 600000.SH.
	if i := strings.IndexByte(c, '.'); i == 6 && bareCode.MatchString(c[:6]) {
		return c[:6]
	}
	// Quote-server form: 1.600000 (SH) or 0.000001 (SZ/BJ).
	if len(c) == 8 && (c[0] == '0' || c[0] == '1') && c[1] == '.' && bareCode.MatchString(c[2:]) {
		return c[2:]
	}
	return c
}

// ToQuoteServerCode renders a code in the form quote servers expect:
// market id "1" for Shanghai, "0" for Shenzhen and Beijing, joined with a
// dot to the bare code.
func ToQuoteServerCode(code string) (string, error) {
	bare := NormalizeCode(code)
	ex, err := ExchangeFor(bare)
	if err != nil {
		return "", err
	}
	market := "0"
	if ex == ExchangeShanghai {
		market = "1"
	}
	return market + "." + bare, nil
}

// ToSuffixCode renders the vendor suffix form, e.g. "600000.SH".
func ToSuffixCode(code string) (string, error) {
	bare := NormalizeCode(code)
	ex, err := ExchangeFor(bare)
	if err != nil {
		return "", err
	}
	return bare + "." + string(ex), nil
}

// ToPrefixCode renders the exchange prefix form, e.g. "SH600000".
func ToPrefixCode(code string) (string, error) {
	bare := NormalizeCode(code)
	ex, err := ExchangeFor(bare)
	if err != nil {
		return "", err
	}
	return string(ex) + bare, nil
}

// ValidateCode reports whether code normalizes to a known-exchange
// six-digit code, with a human-readable reason on rejection.
func ValidateCode(code string) (bool, string) {
	bare := NormalizeCode(code)
	if !bareCode.MatchString(bare) {
		return false, fmt.Sprintf("code %q does not normalize to six digits", code)
	}
	if _, err := ExchangeFor(bare); err != nil {
		return false, err.Error()
	}
	return true, ""
}
