package scanner

import (
	"net/url"
	"strings"

	apperrors "go-product-verifier/internal/errors"
)

const verifyMarker = "verify="

// ExtractCode pulls the verification code out of a QR payload. The marker
// must start a query parameter; its value ends at the next '&' or '#'.
func ExtractCode(raw string) (string, error) {
	idx := markerIndex(raw)
	if idx < 0 {
		return "", apperrors.NewUnsupportedCodeError(apperrors.MsgUnsupportedCode, nil)
	}

	value := raw[idx+len(verifyMarker):]
	if end := strings.IndexAny(value, "&#"); end >= 0 {
		value = value[:end]
	}
	if unescaped, err := url.QueryUnescape(value); err == nil {
		value = unescaped
	}

	code := strings.TrimSpace(value)
	if code == "" {
		return "", apperrors.NewUnsupportedCodeError(apperrors.MsgUnsupportedCode, nil)
	}
	return code, nil
}

func markerIndex(raw string) int {
	offset := 0
	for {
		i := strings.Index(raw[offset:], verifyMarker)
		if i < 0 {
			return -1
		}
		pos := offset + i
		if pos > 0 && (raw[pos-1] == '?' || raw[pos-1] == '&') {
			return pos
		}
		offset = pos + len(verifyMarker)
	}
}
