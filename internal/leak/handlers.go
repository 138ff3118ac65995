package leak

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/h2non/filetype"

	"github.com/zombor/leaksniff/internal/detect"
)

// maxUploadSize bounds the multipart form
const maxUploadSize = int64(32 << 20) // 32MB

type hashCheckResponse struct {
	LeakDetected bool    `json:"leak_detected"`
	MatchedFile  *string `json:"matched_file"`
	Difference   *int    `json:"difference"`
	Status       Status  `json:"status"`
	Error        string  `json:"error,omitempty"`
}

type keywordCheckResponse struct {
	KeywordFound bool    `json:"keyword_found"`
	Keyword      *string `json:"keyword"`
	Status       Status  `json:"status"`
	Error        string  `json:"error,omitempty"`
}

type textSimilarityResponse struct {
	Similar         bool     `json:"similar"`
	MatchedFile     *string  `json:"matched_file"`
	SimilarityRatio *float64 `json:"similarity_ratio"`
	Status          Status   `json:"status"`
	Error           string   `json:"error,omitempty"`
}

type checkImageResponse struct {
	Filename       string                 `json:"filename"`
	LeakDetected   bool                   `json:"leak_detected"`
	Detectors      []Detector             `json:"detectors"`
	HashCheck      hashCheckResponse      `json:"hash_check"`
	OCRText        string                 `json:"ocr_text"`
	KeywordCheck   keywordCheckResponse   `json:"keyword_check"`
	TextSimilarity textSimilarityResponse `json:"text_similarity"`
}

type checkTextRequest struct {
	UIText string `json:"ui_text"`
}

type checkTextResponse struct {
	Confidential    bool    `json:"confidential"`
	MatchedFile     *string `json:"matched_file"`
	SimilarityScore float64 `json:"similarity_score"`
}

func optional[T any](ok bool, v T) *T {
	if !ok {
		return nil
	}
	return &v
}

func newCheckImageResponse(v *Verdict) checkImageResponse {
	detectors := v.Fired
	if detectors == nil {
		detectors = []Detector{}
	}
	return checkImageResponse{
		Filename:     v.Filename,
		LeakDetected: v.LeakDetected,
		Detectors:    detectors,
		HashCheck: hashCheckResponse{
			LeakDetected: v.Hash.Matched,
			MatchedFile:  optional(v.Hash.Matched, v.Hash.Reference),
			Difference:   optional(v.Hash.Matched, v.Hash.Distance),
			Status:       v.Hash.Status,
			Error:        v.Hash.Error,
		},
		OCRText: v.OCR.Text,
		KeywordCheck: keywordCheckResponse{
			KeywordFound: v.Keyword.Found,
			Keyword:      optional(v.Keyword.Found, v.Keyword.Keyword),
			Status:       v.Keyword.Status,
			Error:        v.Keyword.Error,
		},
		TextSimilarity: textSimilarityResponse{
			Similar:         v.Similarity.Matched,
			MatchedFile:     optional(v.Similarity.Matched, v.Similarity.Reference),
			SimilarityRatio: optional(v.Similarity.Matched, v.Similarity.Ratio),
			Status:          v.Similarity.Status,
			Error:           v.Similarity.Error,
		},
	}
}

func newCheckTextResponse(m *detect.UITextMatch) checkTextResponse {
	return checkTextResponse{
		Confidential:    m.Confidential,
		MatchedFile:     optional(m.Reference != "", m.Reference),
		SimilarityScore: m.Score,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// handleCheckImage scans an uploaded image
func (s *Server) handleCheckImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "No image provided", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, "No image provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Filename == "" {
		writeError(w, "No selected file", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file", http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		writeError(w, "Empty file", http.StatusBadRequest)
		return
	}

	// Trust the bytes over the client-declared type
	contentType := header.Header.Get("Content-Type")
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		contentType = kind.MIME.Value
	}

	verdict, err := s.service.Scan(r.Context(), Candidate{
		Filename:    header.Filename,
		Data:        data,
		ContentType: contentType,
	})
	if err != nil {
		slog.Error("Error scanning image", "filename", header.Filename, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, newCheckImageResponse(verdict))
}

// handleCheckConfidentialText compares UI-provided text with the reference texts
func (s *Server) handleCheckConfidentialText(w http.ResponseWriter, r *http.Request) {
	var req checkTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "No text provided", http.StatusBadRequest)
		return
	}

	match, err := s.service.CheckUIText(r.Context(), req.UIText)
	if errors.Is(err, ErrEmptyText) {
		writeError(w, "No text provided", http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("Error checking text", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, newCheckTextResponse(match))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
