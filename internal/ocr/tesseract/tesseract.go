// Package tesseract recognizes label text with the Tesseract OCR engine.
package tesseract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Recognizer runs Tesseract through gosseract. The engine is not safe for
// concurrent use, so calls are serialized.
type Recognizer struct {
	mu       sync.Mutex
	language string
}

// New creates a recognizer for the given Tesseract language, "eng" by default
func New(language string) *Recognizer {
	if strings.TrimSpace(language) == "" {
		language = "eng"
	}
	return &Recognizer{language: language}
}

// RecognizeText returns the text found in an encoded image
func (r *Recognizer) RecognizeText(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.language); err != nil {
		return "", fmt.Errorf("failed to set OCR language %q: %w", r.language, err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return "", fmt.Errorf("failed to set page segmentation: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("text recognition failed: %w", err)
	}
	return text, nil
}
