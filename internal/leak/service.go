package leak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/corona10/goimagehash"

	"github.com/zombor/leaksniff/internal/detect"
	"github.com/zombor/leaksniff/internal/fingerprint"
	"github.com/zombor/leaksniff/internal/ocr"
	"github.com/zombor/leaksniff/internal/reference"
	"github.com/zombor/leaksniff/internal/textcache"
)

// ErrEmptyText is returned when a UI text check is given blank input
var ErrEmptyText = errors.New("text is required")

// Fingerprinter builds reference hashes and hashes candidates
type Fingerprinter interface {
	Build(ctx context.Context) (fingerprint.References, error)
	HashImage(ctx context.Context, data []byte) (*goimagehash.ImageHash, error)
}

// TextExtractor extracts text from image bytes
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) ocr.Text
}

// TextCache holds OCR text for the text reference library
type TextCache interface {
	Sync(ctx context.Context, lib reference.Library, extractor textcache.Extractor) (int, error)
	Texts() map[string]string
}

// Thresholds configures the detectors
type Thresholds struct {
	Hash int     // maximum Hamming distance
	Text float64 // minimum sequence ratio, 0..1
	UI   float64 // minimum strict ratio for UI text, 0..100
}

// DefaultThresholds returns the standard detector thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		Hash: fingerprint.DefaultThreshold,
		Text: detect.DefaultTextThreshold,
		UI:   detect.DefaultUICutoff,
	}
}

// Service runs the leak detectors against candidate images
type Service struct {
	fingerprints Fingerprinter
	extractor    TextExtractor
	texts        TextCache
	textLibrary  reference.Library
	keywords     *detect.KeywordDetector
	thresholds   Thresholds
}

// NewService creates a new Service with the default keywords and thresholds
func NewService(fingerprints Fingerprinter, extractor TextExtractor, texts TextCache, textLibrary reference.Library) *Service {
	return NewServiceWithDeps(fingerprints, extractor, texts, textLibrary, detect.NewKeywordDetector(nil), DefaultThresholds())
}

// NewServiceWithDeps creates a new Service with custom keywords and thresholds
func NewServiceWithDeps(fingerprints Fingerprinter, extractor TextExtractor, texts TextCache, textLibrary reference.Library, keywords *detect.KeywordDetector, thresholds Thresholds) *Service {
	return &Service{
		fingerprints: fingerprints,
		extractor:    extractor,
		texts:        texts,
		textLibrary:  textLibrary,
		keywords:     keywords,
		thresholds:   thresholds,
	}
}

// referenceSet is the state detectors compare a candidate against
type referenceSet struct {
	hashes  fingerprint.References
	hashErr error
	texts   map[string]string
	textErr error
}

func (s *Service) loadHashes(ctx context.Context, refs *referenceSet) error {
	hashes, err := s.fingerprints.Build(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		slog.Error("Failed to build reference hashes", "error", err)
		refs.hashErr = err
		return nil
	}
	refs.hashes = hashes
	return nil
}

// loadTexts syncs the text cache. Texts already cached are still used when the sync fails.
func (s *Service) loadTexts(ctx context.Context, refs *referenceSet) error {
	added, err := s.texts.Sync(ctx, s.textLibrary, s.extractor)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		slog.Error("Failed to sync reference texts", "error", err)
		refs.textErr = err
	} else if added > 0 {
		slog.Info("Added reference texts", "count", added)
	}
	refs.texts = s.texts.Texts()
	return nil
}

func (s *Service) loadReferences(ctx context.Context, hashOnly bool) (*referenceSet, error) {
	refs := &referenceSet{}
	if err := s.loadHashes(ctx, refs); err != nil {
		return nil, err
	}
	if hashOnly {
		return refs, nil
	}
	if err := s.loadTexts(ctx, refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// Scan runs the hash, keyword and text similarity detectors against the candidate
// and ORs their results. Every detector runs regardless of the others. A detector
// that cannot run is recorded as failed in the verdict; an error is returned only
// when ctx is cancelled.
func (s *Service) Scan(ctx context.Context, candidate Candidate) (*Verdict, error) {
	refs, err := s.loadReferences(ctx, false)
	if err != nil {
		return nil, err
	}
	return s.evaluate(ctx, candidate, refs, false)
}

func (s *Service) evaluate(ctx context.Context, candidate Candidate, refs *referenceSet, hashOnly bool) (*Verdict, error) {
	v := &Verdict{Filename: candidate.Filename}

	data, contentType := candidate.Data, candidate.ContentType
	// Normalizing once lets the hash detector read formats only the OCR path decodes
	if pngData, err := ocr.Normalize(data, contentType); err == nil {
		data, contentType = pngData, "image/png"
	}

	v.Hash = s.checkHash(ctx, data, refs)

	if hashOnly {
		v.Keyword = KeywordOutcome{Status: StatusSkipped}
		v.Similarity = SimilarityOutcome{Status: StatusSkipped}
	} else {
		text := s.extractor.Extract(ctx, data, contentType)
		v.OCR = OCROutcome{State: text.State, Text: text.Value}
		if text.Err != nil {
			v.OCR.Error = text.Err.Error()
		}
		v.Keyword = s.checkKeywords(text)
		v.Similarity = s.checkSimilarity(text, refs)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.aggregate()
	slog.Info("Scanned image",
		"file", v.Filename,
		"leak_detected", v.LeakDetected,
		"detectors", v.Fired,
	)
	return v, nil
}

func (s *Service) checkHash(ctx context.Context, data []byte, refs *referenceSet) HashOutcome {
	if refs.hashErr != nil {
		return HashOutcome{Status: StatusFailed, Error: refs.hashErr.Error()}
	}

	hash, err := s.fingerprints.HashImage(ctx, data)
	if err != nil {
		slog.Warn("Failed to hash candidate image", "error", err)
		return HashOutcome{Status: StatusFailed, Error: err.Error()}
	}

	match := fingerprint.CheckImageLeak(hash, refs.hashes, s.thresholds.Hash)
	return HashOutcome{Status: statusOf(match.Matched), Match: match}
}

func (s *Service) checkKeywords(text ocr.Text) KeywordOutcome {
	if text.State == ocr.StateFailed {
		return KeywordOutcome{Status: StatusFailed, Error: textError(text)}
	}
	match := s.keywords.Scan(text.Value)
	return KeywordOutcome{Status: statusOf(match.Found), KeywordMatch: match}
}

func (s *Service) checkSimilarity(text ocr.Text, refs *referenceSet) SimilarityOutcome {
	if text.State == ocr.StateFailed {
		return SimilarityOutcome{Status: StatusFailed, Error: textError(text)}
	}

	match := detect.CheckTextLeak(text.Value, refs.texts, s.thresholds.Text)
	out := SimilarityOutcome{Status: statusOf(match.Matched), TextMatch: match}
	// A failed sync only matters if nothing matched the texts we do have
	if !match.Matched && refs.textErr != nil {
		out.Status = StatusFailed
		out.Error = refs.textErr.Error()
	}
	return out
}

func textError(text ocr.Text) string {
	if text.Err == nil {
		return "text extraction failed"
	}
	return fmt.Sprintf("text extraction failed: %v", text.Err)
}

// CheckUIText compares free-form text against the cached reference texts using
// the strict ratio. The best match is reported even below the cutoff.
func (s *Service) CheckUIText(ctx context.Context, text string) (*detect.UITextMatch, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	refs := &referenceSet{}
	if err := s.loadTexts(ctx, refs); err != nil {
		return nil, err
	}

	match := detect.CheckUIText(text, refs.texts, s.thresholds.UI)
	slog.Info("Checked UI text",
		"confidential", match.Confidential,
		"matched_file", match.Reference,
		"score", match.Score,
	)
	return &match, nil
}

// BatchOptions configures ScanDirectory
type BatchOptions struct {
	// HashOnly runs only the perceptual hash detector
	HashOnly bool
}

// ScanDirectory scans every image in dir, calling fn with each verdict in file
// name order. References are loaded once for the whole batch. Files that cannot
// be read are reported through a verdict with a failed hash outcome. It returns
// the number of files scanned.
func (s *Service) ScanDirectory(ctx context.Context, dir string, opts BatchOptions, fn func(*Verdict) error) (int, error) {
	lib, err := reference.NewLocalLibrary(dir)
	if err != nil {
		return 0, err
	}
	entries, err := lib.List()
	if err != nil {
		return 0, fmt.Errorf("scanning directory: %w", err)
	}

	refs, err := s.loadReferences(ctx, opts.HashOnly)
	if err != nil {
		return 0, err
	}

	scanned := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return scanned, err
		}

		data, err := lib.Get(entry.Name)
		if err != nil {
			slog.Warn("Skipping candidate image", "file", entry.Name, "error", err)
			v := &Verdict{
				Filename:   entry.Name,
				Hash:       HashOutcome{Status: StatusFailed, Error: err.Error()},
				Keyword:    KeywordOutcome{Status: StatusSkipped},
				Similarity: SimilarityOutcome{Status: StatusSkipped},
			}
			v.aggregate()
			if err := fn(v); err != nil {
				return scanned, err
			}
			scanned++
			continue
		}

		v, err := s.evaluate(ctx, Candidate{Filename: entry.Name, Data: data}, refs, opts.HashOnly)
		if err != nil {
			return scanned, err
		}
		if err := fn(v); err != nil {
			return scanned, err
		}
		scanned++
	}

	slog.Info("Scanned directory", "dir", filepath.Clean(dir), "files", scanned, "hash_only", opts.HashOnly)
	return scanned, nil
}
