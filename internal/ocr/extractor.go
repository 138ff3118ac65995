package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// DefaultTimeout bounds a single extraction
const DefaultTimeout = 60 * time.Second

// ErrTimeout is returned when recognition does not finish in time
var ErrTimeout = errors.New("OCR timed out")

// State describes the outcome of an extraction
type State string

const (
	// StatePresent means recognition succeeded and found text
	StatePresent State = "present"
	// StateAbsent means recognition succeeded but the image has no text
	StateAbsent State = "absent"
	// StateFailed means recognition could not be performed
	StateFailed State = "failed"
)

// Text is the result of extracting text from one image. Failure is kept
// distinct from an image with no text.
type Text struct {
	State State
	Value string
	Err   error
}

// Present reports whether the extraction produced non-empty text
func (t Text) Present() bool {
	return t.State == StatePresent
}

// Extractor normalizes images and runs them through an Engine under a timeout
type Extractor struct {
	engine  Engine
	timeout time.Duration
}

// NewExtractor wraps engine. A non-positive timeout uses DefaultTimeout.
func NewExtractor(engine Engine, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Extractor{engine: engine, timeout: timeout}
}

// Engine returns the underlying OCR engine
func (e *Extractor) Engine() Engine {
	return e.engine
}

type recognizeResult struct {
	text string
	err  error
}

// Extract returns the trimmed text in the image. Errors are reported in the
// returned Text rather than as a separate value.
func (e *Extractor) Extract(ctx context.Context, data []byte, contentType string) Text {
	pngData, err := Normalize(data, contentType)
	if err != nil {
		return Text{State: StateFailed, Err: fmt.Errorf("preparing image: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// Buffered so an abandoned engine call does not leak the goroutine
	done := make(chan recognizeResult, 1)
	go func() {
		text, err := e.engine.Recognize(ctx, pngData)
		done <- recognizeResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Warn("OCR timed out", "engine", e.engine.Name(), "timeout", e.timeout)
			return Text{State: StateFailed, Err: ErrTimeout}
		}
		return Text{State: StateFailed, Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return Text{State: StateFailed, Err: ErrTimeout}
			}
			return Text{State: StateFailed, Err: fmt.Errorf("%s: %w", e.engine.Name(), res.err)}
		}
		value := strings.TrimSpace(res.text)
		if value == "" {
			return Text{State: StateAbsent}
		}
		return Text{State: StatePresent, Value: value}
	}
}

// ExtractFile reads the image at path and extracts its text. The content type
// is sniffed from the file contents.
func (e *Extractor) ExtractFile(ctx context.Context, path string) Text {
	data, err := os.ReadFile(path)
	if err != nil {
		return Text{State: StateFailed, Err: fmt.Errorf("reading file: %w", err)}
	}
	return e.Extract(ctx, data, "")
}
