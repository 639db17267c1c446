package validation

import (
	"strings"
	"unicode"

	apperrors "go-product-verifier/internal/errors"
)

// MaxCodeLength bounds a verification code accepted from manual entry or a QR payload.
const MaxCodeLength = 128

// NormalizeCode trims a verification code and checks it is usable in a request path.
func NormalizeCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "", apperrors.NewValidationError("Please enter a product code.", nil)
	}
	if len(code) > MaxCodeLength {
		return "", apperrors.NewValidationError("Product code is too long.", nil)
	}
	for _, r := range code {
		if unicode.IsControl(r) {
			return "", apperrors.NewValidationError("Product code contains invalid characters.", nil)
		}
	}
	return code, nil
}
