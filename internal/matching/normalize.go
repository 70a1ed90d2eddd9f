// Package matching implements the C4 identifier/exact/fuzzy author-matching
// strategies and their orchestration (§4.4), grounded on the teacher's
// observability-wrapped external-call pattern and fundamental/matching/*.py.
package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize NFKD-decomposes name, strips combining marks, lowercases, and
// collapses whitespace, matching the exact-strategy normalization rule of
// §4.4. An empty input normalizes to empty; per §9 open question (b), two
// empty normalized names are never considered a match — every caller that
// compares normalized names must reject the empty case explicitly before
// computing equality or similarity.
func Normalize(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	decomposed := norm.NFKD.String(trimmed)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue // strip combining marks left behind by NFKD
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return collapseWhitespace(b.String())
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
