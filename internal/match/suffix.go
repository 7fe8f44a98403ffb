// Package match implements the multi-strategy candidate matcher that links
// planning assets to field records: exact code identity, shared trailing
// numeric suffix, and small-scale coordinate proximity.
package match

import "regexp"

var trailingDigitsRe = regexp.MustCompile(`[0-9]+$`)

// NumericSuffix extracts the longest run of trailing decimal digits from an
// asset code. The suffix is compared as text, so leading zeros stay
// significant ("007" never equals "7"). The second return is false when the
// code has no trailing digits.
func NumericSuffix(code string) (string, bool) {
	s := trailingDigitsRe.FindString(code)
	if s == "" {
		return "", false
	}
	return s, true
}

// SuffixEqual reports whether two codes share a non-empty numeric suffix.
func SuffixEqual(a, b string) bool {
	sa, ok := NumericSuffix(a)
	if !ok {
		return false
	}
	sb, ok := NumericSuffix(b)
	return ok && sa == sb
}
