package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrUnknownEngine is returned by NewEngine for an unsupported engine name
var ErrUnknownEngine = errors.New("unknown OCR engine")

// Engine recognizes text in PNG image data
type Engine interface {
	// Recognize returns the raw text found in the image
	Recognize(ctx context.Context, pngData []byte) (string, error)
	// Name identifies the engine in logs
	Name() string
	// Close releases any resources held by the engine
	Close() error
}

// Options selects and configures an OCR engine
type Options struct {
	Engine      string   // tesseract, gemini, ollama or vision
	Languages   []string // tesseract languages, default eng
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string
}

// NewEngine builds the engine named in opts
func NewEngine(ctx context.Context, opts Options) (Engine, error) {
	switch opts.Engine {
	case "", "tesseract":
		return NewTesseract(opts.Languages...), nil
	case "gemini":
		apiKey := opts.GeminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		return NewGemini(ctx, apiKey, opts.GeminiModel)
	case "ollama":
		return NewOllama(opts.OllamaURL, opts.OllamaModel)
	case "vision":
		return NewVision(ctx)
	default:
		return nil, fmt.Errorf("%w: %q (valid: tesseract, gemini, ollama, vision)", ErrUnknownEngine, opts.Engine)
	}
}
