// Package catalog normalizes raw line-item descriptions, matches them
// against the product catalog, and tags products with categories from an
// ordered keyword dictionary.
package catalog

import (
	"strings"
)

// fillerWords are dropped during normalization; they carry no identity.
var fillerWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "and": {}, "or": {}, "in": {},
	"for": {}, "with": {}, "to": {}, "from": {}, "by": {},
	"piece": {}, "pcs": {}, "pkg": {}, "set": {}, "box": {}, "case": {}, "carton": {},
}

// Normalize lowercases, strips punctuation, and drops filler words so that
// "Basmati Rice (5 Kg), Box" and "basmati rice 5kg box" collide.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	var kept []string
	for _, w := range strings.Fields(b.String()) {
		if _, filler := fillerWords[w]; filler || len(w) < 2 {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// Similarity returns a ratio in [0,1] between two normalized names, using
// the longest-common-subsequence of their characters relative to combined
// length.
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	lcs := longestCommonSubsequence(a, b)
	return 2.0 * float64(lcs) / float64(len(a)+len(b))
}

func longestCommonSubsequence(a, b string) int {
	// Rolling single-row DP keeps this O(len(b)) in memory.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
