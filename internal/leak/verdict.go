package leak

import (
	"github.com/zombor/leaksniff/internal/detect"
	"github.com/zombor/leaksniff/internal/fingerprint"
	"github.com/zombor/leaksniff/internal/ocr"
)

// Detector names a leak signal
type Detector string

const (
	DetectorHash       Detector = "hash"
	DetectorKeyword    Detector = "keyword"
	DetectorSimilarity Detector = "text_similarity"
)

// Status is the outcome of a single detector run
type Status string

const (
	StatusMatched Status = "matched"
	StatusNoMatch Status = "no_match"
	// StatusFailed means the detector could not run; it contributes no signal
	StatusFailed Status = "failed"
	// StatusSkipped means the detector was not requested, as in hash-only batch runs
	StatusSkipped Status = "skipped"
)

// Candidate is an image submitted for scanning. It is never persisted.
type Candidate struct {
	Filename    string
	Data        []byte
	ContentType string
}

// HashOutcome is the perceptual hash detector result
type HashOutcome struct {
	Status Status
	Error  string
	fingerprint.Match
}

// OCROutcome is the candidate's extracted text
type OCROutcome struct {
	State ocr.State
	Text  string
	Error string
}

// KeywordOutcome is the keyword detector result
type KeywordOutcome struct {
	Status Status
	Error  string
	detect.KeywordMatch
}

// SimilarityOutcome is the text similarity detector result
type SimilarityOutcome struct {
	Status Status
	Error  string
	detect.TextMatch
}

// Verdict is the ORed result of all detectors with the outcome of each
type Verdict struct {
	Filename     string
	LeakDetected bool
	Fired        []Detector

	Hash       HashOutcome
	OCR        OCROutcome
	Keyword    KeywordOutcome
	Similarity SimilarityOutcome
}

// Failed reports whether any detector could not run
func (v *Verdict) Failed() bool {
	return v.Hash.Status == StatusFailed || v.Keyword.Status == StatusFailed || v.Similarity.Status == StatusFailed
}

func (v *Verdict) aggregate() {
	v.Fired = v.Fired[:0]
	if v.Hash.Status == StatusMatched {
		v.Fired = append(v.Fired, DetectorHash)
	}
	if v.Keyword.Status == StatusMatched {
		v.Fired = append(v.Fired, DetectorKeyword)
	}
	if v.Similarity.Status == StatusMatched {
		v.Fired = append(v.Fired, DetectorSimilarity)
	}
	v.LeakDetected = len(v.Fired) > 0
}

func statusOf(matched bool) Status {
	if matched {
		return StatusMatched
	}
	return StatusNoMatch
}
