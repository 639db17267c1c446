package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	apperrors "go-product-verifier/internal/errors"
)

// Origin records how the user supplied the file
type Origin string

const (
	OriginPicker Origin = "picker"
	OriginDrop   Origin = "drop"
)

// ParseOrigin maps a form value to an Origin; anything unknown is the picker
func ParseOrigin(s string) Origin {
	if strings.EqualFold(strings.TrimSpace(s), string(OriginDrop)) {
		return OriginDrop
	}
	return OriginPicker
}

// Upload is one user-supplied image file
type Upload struct {
	Filename    string
	ContentType string
	Origin      Origin
	Body        []byte
}

// ReadUpload reads at most maxBytes of r into an Upload
func ReadUpload(r io.Reader, filename, contentType string, origin Origin, maxBytes int64) (Upload, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return Upload{}, apperrors.NewInternalError(apperrors.MsgImageProcessing, err)
	}
	if int64(len(data)) > maxBytes {
		return Upload{}, apperrors.NewValidationError(
			fmt.Sprintf("Image is too large (limit %d bytes).", maxBytes), nil)
	}
	return Upload{Filename: filename, ContentType: contentType, Origin: origin, Body: data}, nil
}

// InvalidFileError is the rejection for a missing or non-image file, worded by origin
func InvalidFileError(origin Origin, cause error) error {
	if origin == OriginDrop {
		return apperrors.NewValidationError(apperrors.MsgDropImage, cause)
	}
	return apperrors.NewValidationError(apperrors.MsgSelectImage, cause)
}

// ValidateUpload accepts files whose declared and sniffed types are both images
func ValidateUpload(u Upload) error {
	declared := strings.ToLower(strings.TrimSpace(u.ContentType))
	if !strings.HasPrefix(declared, "image/") {
		return InvalidFileError(u.Origin, fmt.Errorf("declared content type %q", u.ContentType))
	}
	if len(u.Body) == 0 {
		return InvalidFileError(u.Origin, fmt.Errorf("empty file"))
	}

	detected := mimetype.Detect(u.Body)
	if !strings.HasPrefix(detected.String(), "image/") {
		return InvalidFileError(u.Origin, fmt.Errorf("sniffed content type %q", detected.String()))
	}
	return nil
}

// DecodeUpload validates and decodes an upload into an image
func DecodeUpload(u Upload) (image.Image, error) {
	if err := ValidateUpload(u); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(u.Body))
	if err != nil {
		return nil, apperrors.NewValidationError(apperrors.MsgImageProcessing, err)
	}
	return img, nil
}
