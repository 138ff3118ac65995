package detect

import "strings"

// DefaultKeywords are the sensitive phrases scanned for in OCR text, in match priority order
var DefaultKeywords = []string{
	"confidential",
	"top secret",
	"internal use only",
	"do not distribute",
}

// KeywordMatch is the outcome of a keyword scan
type KeywordMatch struct {
	Found   bool   `json:"keyword_found"`
	Keyword string `json:"keyword,omitempty"`
}

// KeywordDetector scans text for a fixed list of sensitive phrases
type KeywordDetector struct {
	keywords []string
}

// NewKeywordDetector creates a detector for the given phrases. An empty list falls back to DefaultKeywords.
func NewKeywordDetector(keywords []string) *KeywordDetector {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			lowered = append(lowered, k)
		}
	}
	return &KeywordDetector{keywords: lowered}
}

// Keywords returns the phrases the detector matches, lowercased
func (d *KeywordDetector) Keywords() []string {
	return append([]string(nil), d.keywords...)
}

// Scan reports the first keyword, in list order, contained in text.
// Matching is case-insensitive substring containment, not whole-word.
func (d *KeywordDetector) Scan(text string) KeywordMatch {
	if text == "" {
		return KeywordMatch{}
	}
	lower := strings.ToLower(text)
	for _, keyword := range d.keywords {
		if strings.Contains(lower, keyword) {
			return KeywordMatch{Found: true, Keyword: keyword}
		}
	}
	return KeywordMatch{}
}

// ContainsConfidentialKeywords scans text against DefaultKeywords
func ContainsConfidentialKeywords(text string) KeywordMatch {
	return NewKeywordDetector(nil).Scan(text)
}
