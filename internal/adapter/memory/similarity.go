package memory

import (
	"strings"
	"unicode"
)

// normalize lowercases s, drops punctuation and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space && b.Len() > 0:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// trigrams returns the set of rune trigrams of the padded, normalized text.
func trigrams(s string) map[string]struct{} {
	r := []rune("  " + normalize(s) + " ")
	set := make(map[string]struct{}, len(r))
	for i := 0; i+3 <= len(r); i++ {
		set[string(r[i:i+3])] = struct{}{}
	}
	return set
}

// similarity is the Jaccard index of the trigram sets of a and b, in [0, 1].
func similarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	inter := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// ftsQuery turns free text into an FTS5 OR query of quoted terms.
func ftsQuery(hint string) string {
	words := strings.Fields(normalize(hint))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
