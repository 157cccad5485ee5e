package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldText lowercases s, removes diacritics and collapses whitespace so that
// "Grifería  NEGRA" and "griferia negra" compare equal.
func FoldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// ContainsAny reports whether the folded text contains any of the folded needles
func ContainsAny(text string, needles ...string) bool {
	folded := FoldText(text)
	for _, n := range needles {
		if n != "" && strings.Contains(folded, FoldText(n)) {
			return true
		}
	}
	return false
}
