package dedup

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// indel counts insertions and deletions only; a substitution costs two.
var indel = levenshtein.NewParams().SubCost(2)

// Ratio is the normalized indel similarity of a and b on a 0-100 scale.
func Ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	d := levenshtein.Distance(a, b, indel)
	return 100 * (1 - float64(d)/float64(total))
}

// TokenSetRatio compares two normalized names by their token sets. Names
// whose numbered tokens differ score 0, so "post 12" never matches
// "post 99". When the names share tokens and one set contains the other,
// the score is 100; otherwise it is the best Ratio among the shared tokens
// and each side's full sorted token string.
func TokenSetRatio(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if !slices.Equal(numbered(ta), numbered(tb)) {
		return 0
	}

	inB := make(map[string]bool, len(tb))
	for _, t := range tb {
		inB[t] = true
	}
	var inter, onlyA, onlyB []string
	for _, t := range ta {
		if inB[t] {
			inter = append(inter, t)
			delete(inB, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for _, t := range tb {
		if inB[t] {
			onlyB = append(onlyB, t)
		}
	}

	if len(inter) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	sect := strings.Join(inter, " ")
	ab := joinNonEmpty(sect, strings.Join(onlyA, " "))
	ba := joinNonEmpty(sect, strings.Join(onlyB, " "))

	best := Ratio(ab, ba)
	if sect != "" {
		best = max(best, Ratio(sect, ab), Ratio(sect, ba))
	}
	return best
}

// numbered returns the tokens containing a digit, in token order. Post,
// chapter and unit numbers name distinct organizations.
func numbered(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		if strings.IndexFunc(t, unicode.IsDigit) >= 0 {
			out = append(out, t)
		}
	}
	return out
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
