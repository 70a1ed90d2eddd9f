package matching

import "github.com/agnivade/levenshtein"

// Similarity computes 1 - Levenshtein(a,b)/max(len(a),len(b)) over the
// normalized forms of a and b (§4.4 fuzzy strategy, §8 testable properties).
// Two empty normalized strings never match (§9 b): Similarity returns 0 if
// either input normalizes to empty.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}
	d := levenshtein.ComputeDistance(na, nb)
	maxLen := len([]rune(na))
	if l := len([]rune(nb)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(d)/float64(maxLen)
}
