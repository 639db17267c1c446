// Package ocr reads the verification code printed on a product label, for
// prefilling manual entry when the QR code is damaged.
package ocr

import (
	"context"
	"regexp"
	"strings"

	apperrors "go-product-verifier/internal/errors"
	"go-product-verifier/internal/scanner"
)

// MsgNoPrintedCode is shown when the label text holds no recognizable code
const MsgNoPrintedCode = "No product code found on the label. Please type the code manually."

// TextRecognizer extracts raw text from an encoded image
type TextRecognizer interface {
	RecognizeText(ctx context.Context, image []byte) (string, error)
}

var (
	labelledCode = regexp.MustCompile(`(?i:\b(?:verification|verify|product)\s+)?\b(?i:code)\b\s*[:#-]?\s*([A-Z0-9][A-Z0-9-]{3,})`)
	bareCode     = regexp.MustCompile(`\b[A-Z]{2,4}-?[0-9]{4,}\b`)
)

// ExtractPrintedCode finds the most likely verification code in label text.
// A printed verify URL wins, then a "Code:" label, then a bare code token.
func ExtractPrintedCode(text string) (string, bool) {
	for _, field := range strings.Fields(text) {
		if code, err := scanner.ExtractCode(field); err == nil {
			return code, true
		}
	}

	if m := labelledCode.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(strings.Trim(m[1], "-")), true
	}

	if m := bareCode.FindString(strings.ToUpper(text)); m != "" {
		return m, true
	}
	return "", false
}

// LabelReader turns a label photo into a code
type LabelReader struct {
	recognizer TextRecognizer
}

// NewLabelReader wraps a text recognizer
func NewLabelReader(recognizer TextRecognizer) *LabelReader {
	return &LabelReader{recognizer: recognizer}
}

// ReadCode returns the code and the recognized text it came from
func (r *LabelReader) ReadCode(ctx context.Context, image []byte) (string, string, error) {
	text, err := r.recognizer.RecognizeText(ctx, image)
	if err != nil {
		return "", "", apperrors.NewInternalError(apperrors.MsgImageProcessing, err)
	}
	code, ok := ExtractPrintedCode(text)
	if !ok {
		return "", text, apperrors.NewNotFoundError(MsgNoPrintedCode, nil)
	}
	return code, text, nil
}
