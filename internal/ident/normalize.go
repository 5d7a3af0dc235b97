package ident

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var variantReplacer = strings.NewReplacer(
	// single quote variants
	"´", "'", "`", "'", "‘", "'", "’", "'", "‛", "'", "‚", "'",
	// dash variants
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "−", "-",
)

// hyphenation matches a word broken across a line: "exam-\n ple".
var hyphenation = regexp.MustCompile(`(\p{L})-[ \t]*\r?\n\s*(\p{Ll})`)

// Normalize returns the canonical textual form of s.
//
// Quote and dash variants are unified, line-break hyphenation is removed,
// whitespace runs (including line breaks) collapse to one space, and the
// result is trimmed and NFC-composed. Normalize is idempotent.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = variantReplacer.Replace(s)
	s = hyphenation.ReplaceAllString(s, "$1$2")
	return strings.Join(strings.Fields(s), " ")
}
