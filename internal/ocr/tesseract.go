package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements Engine using the local Tesseract library
type Tesseract struct {
	languages []string
}

// NewTesseract creates a Tesseract engine. With no languages it recognizes English.
func NewTesseract(languages ...string) *Tesseract {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Tesseract{languages: languages}
}

// Recognize runs Tesseract over the image. A client is created per call since
// gosseract clients are not safe for concurrent use.
func (t *Tesseract) Recognize(ctx context.Context, pngData []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("setting tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(pngData); err != nil {
		return "", fmt.Errorf("loading image: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognizing text: %w", err)
	}
	return text, nil
}

// Name returns the engine name
func (t *Tesseract) Name() string {
	return "tesseract"
}

// Close is a no-op; clients are closed after each call
func (t *Tesseract) Close() error {
	return nil
}
