package letter

import (
	"strings"
	"unicode"
)

// MaskAccount keeps only the last four characters of an account number,
// e.g. "****1234". Separators are ignored.
func MaskAccount(account string) string {
	tail := lastN(alnum(account), 4)
	if tail == "" {
		return ""
	}
	return "****" + tail
}

// MaskSSN renders a social security number as "XXX-XX-1234".
func MaskSSN(ssn string) string {
	tail := lastN(digits(ssn), 4)
	if tail == "" {
		return ""
	}
	return "XXX-XX-" + tail
}

func alnum(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func lastN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return string(r)
	}
	return string(r[len(r)-n:])
}
