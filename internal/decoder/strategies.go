package decoder

import (
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	xdraw "golang.org/x/image/draw"

	"go-product-verifier/pkg/models"
)

// fastStrategy decodes a downscaled grayscale copy without extra hints
type fastStrategy struct {
	maxDimension int
}

// NewFastStrategy creates the fast path. Only direct-pixel image types are supported.
func NewFastStrategy(maxDimension int) Strategy {
	if maxDimension <= 0 {
		maxDimension = DefaultOptions().FastMaxDimension
	}
	return &fastStrategy{maxDimension: maxDimension}
}

func (s *fastStrategy) Name() string { return "fast" }

func (s *fastStrategy) Decode(img image.Image) (models.DecodedCode, error) {
	switch img.(type) {
	case *image.Gray, *image.RGBA, *image.NRGBA, *image.YCbCr:
	default:
		return models.DecodedCode{}, ErrUnsupported
	}
	return decodeQR(downscaleGray(img, s.maxDimension), nil)
}

// thoroughStrategy decodes at full resolution with TRY_HARDER
type thoroughStrategy struct{}

// NewThoroughStrategy creates the fallback decoder that accepts any image
func NewThoroughStrategy() Strategy {
	return &thoroughStrategy{}
}

func (s *thoroughStrategy) Name() string { return "thorough" }

func (s *thoroughStrategy) Decode(img image.Image) (models.DecodedCode, error) {
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	return decodeQR(img, hints)
}

func decodeQR(img image.Image, hints map[gozxing.DecodeHintType]interface{}) (models.DecodedCode, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return models.DecodedCode{}, ErrNotFound
	}

	// Reader keeps per-decode state, so one per call.
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil || result == nil || result.GetText() == "" {
		return models.DecodedCode{}, ErrNotFound
	}
	return models.DecodedCode{RawText: result.GetText()}, nil
}

// downscaleGray converts img to grayscale, shrinking it so the longest side is at most maxDim.
func downscaleGray(img image.Image, maxDim int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	longest := w
	if h > longest {
		longest = h
	}
	if longest > maxDim {
		w = w * maxDim / longest
		h = h * maxDim / longest
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
