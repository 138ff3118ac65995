package detect

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
	"github.com/pmezard/go-difflib/difflib"
)

// The three ratio functions below are not interchangeable. SequenceRatio is on a 0..1 scale and
// follows difflib's matching-block algorithm; StrictRatio and TokenSetRatio are on a 0..100 scale and
// use the Indel (LCS) distance. Each call path keeps its own function and threshold.

const (
	// DefaultTextThreshold is the SequenceRatio cutoff for image-to-reference OCR text comparison
	DefaultTextThreshold = 0.75

	// DefaultCompareThreshold is the TokenSetRatio cutoff used by CompareTexts
	DefaultCompareThreshold = 80.0

	// DefaultUICutoff is the StrictRatio cutoff for free-form UI text
	DefaultUICutoff = 95.0
)

// SequenceRatio returns the difflib similarity ratio of a and b in [0, 1], computed over characters.
// Identical strings score 1.0.
func SequenceRatio(a, b string) float64 {
	return difflib.NewMatcher(splitChars(a), splitChars(b)).Ratio()
}

// IsTextSimilar reports whether the SequenceRatio of a and b reaches threshold
func IsTextSimilar(a, b string, threshold float64) (bool, float64) {
	ratio := SequenceRatio(a, b)
	return ratio >= threshold, ratio
}

// StrictRatio returns the normalized Indel similarity of the full strings on a 0..100 scale
func StrictRatio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	return 100 * float64(2*edlib.LCS(a, b)) / float64(total)
}

// TokenSetRatio compares whitespace-separated token sets on a 0..100 scale. It ignores word
// order and duplicated words. Empty input on either side scores 0.
func TokenSetRatio(a, b string) float64 {
	tokensA, tokensB := tokenSet(a), tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	var intersection, diffAB, diffBA []string
	for t := range tokensA {
		if tokensB[t] {
			intersection = append(intersection, t)
		} else {
			diffAB = append(diffAB, t)
		}
	}
	for t := range tokensB {
		if !tokensA[t] {
			diffBA = append(diffBA, t)
		}
	}

	// One set contains the other
	if len(intersection) > 0 && (len(diffAB) == 0 || len(diffBA) == 0) {
		return 100
	}

	sort.Strings(intersection)
	sort.Strings(diffAB)
	sort.Strings(diffBA)

	sect := strings.Join(intersection, " ")
	combinedAB := joinNonEmpty(sect, strings.Join(diffAB, " "))
	combinedBA := joinNonEmpty(sect, strings.Join(diffBA, " "))

	best := StrictRatio(combinedAB, combinedBA)
	if sect == "" {
		return best
	}
	if r := StrictRatio(sect, combinedAB); r > best {
		best = r
	}
	if r := StrictRatio(sect, combinedBA); r > best {
		best = r
	}
	return best
}

// CompareTexts scores two OCR texts with TokenSetRatio and flags a leak at or above threshold
func CompareTexts(a, b string, threshold float64) (float64, bool) {
	score := TokenSetRatio(a, b)
	return score, score >= threshold
}

func splitChars(s string) []string {
	chars := make([]string, 0, len(s))
	for _, r := range s {
		chars = append(chars, string(r))
	}
	return chars
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		set[t] = true
	}
	return set
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
