package detect

import (
	"sort"
	"strings"
)

// TextMatch is the outcome of comparing a candidate's OCR text against reference texts
type TextMatch struct {
	Matched   bool    `json:"similar"`
	Reference string  `json:"matched_file,omitempty"`
	Ratio     float64 `json:"similarity_ratio,omitempty"`
}

// UITextMatch is the outcome of comparing free-form UI text against reference texts.
// Reference and Score describe the best match even when it falls below the cutoff.
type UITextMatch struct {
	Confidential bool    `json:"confidential"`
	Reference    string  `json:"matched_file,omitempty"`
	Score        float64 `json:"similarity_score"`
}

// CheckTextLeak compares candidate against every non-empty reference text with SequenceRatio.
// It reports the highest ratio at or above threshold; ties go to the lexicographically first reference.
// An empty candidate never matches.
func CheckTextLeak(candidate string, references map[string]string, threshold float64) TextMatch {
	if candidate == "" {
		return TextMatch{}
	}

	var best TextMatch
	for _, ref := range sortedKeys(references) {
		text := references[ref]
		if text == "" {
			continue
		}
		similar, ratio := IsTextSimilar(candidate, text, threshold)
		if similar && (!best.Matched || ratio > best.Ratio) {
			best = TextMatch{Matched: true, Reference: ref, Ratio: ratio}
		}
	}
	return best
}

// CheckUIText compares trimmed, lowercased uiText with each reference text using StrictRatio.
// Confidential is set when any reference scores at or above cutoff.
func CheckUIText(uiText string, references map[string]string, cutoff float64) UITextMatch {
	normalized := strings.ToLower(strings.TrimSpace(uiText))

	var best UITextMatch
	for _, ref := range sortedKeys(references) {
		text := strings.ToLower(strings.TrimSpace(references[ref]))
		if text == "" {
			continue
		}
		score := StrictRatio(normalized, text)
		if score > best.Score {
			best.Score = score
			best.Reference = ref
		}
	}
	best.Confidential = best.Reference != "" && best.Score >= cutoff
	return best
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
