// Package decoder turns pixel data into QR payload text.
//
// Decoding strategies are tried in a fixed priority order. A strategy that
// cannot handle the input reports ErrUnsupported and the next one runs;
// callers only ever see a DecodedCode or ErrNotFound.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go-product-verifier/pkg/models"
)

var (
	// ErrNotFound is the normal outcome for a frame without a readable QR code
	ErrNotFound = errors.New("no QR code found")

	// ErrUnsupported means a strategy cannot run for this input or environment
	ErrUnsupported = errors.New("decoding strategy unsupported")
)

// Decoder decodes a single image
type Decoder interface {
	Decode(ctx context.Context, img image.Image) (models.DecodedCode, error)
}

// Strategy is one way of decoding an image
type Strategy interface {
	Name() string
	Decode(img image.Image) (models.DecodedCode, error)
}

// Options configures the default strategy chain
type Options struct {
	FastPath         bool
	FastMaxDimension int
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		FastPath:         true,
		FastMaxDimension: 640,
	}
}

// Chain tries strategies in order until one yields a code
type Chain struct {
	strategies []Strategy
}

// New builds the default chain: downscaled fast path first, thorough decoder last.
func New(opts Options) *Chain {
	var strategies []Strategy
	if opts.FastPath {
		strategies = append(strategies, NewFastStrategy(opts.FastMaxDimension))
	}
	strategies = append(strategies, NewThoroughStrategy())
	return NewChain(strategies...)
}

// NewChain creates a chain from explicit strategies
func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// Decode runs the strategies in order. Any strategy failure other than a
// decoded code falls through to the next one.
func (c *Chain) Decode(ctx context.Context, img image.Image) (models.DecodedCode, error) {
	if img == nil || img.Bounds().Empty() {
		return models.DecodedCode{}, ErrNotFound
	}

	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return models.DecodedCode{}, err
		}
		code, err := safeDecode(s, img)
		if err == nil && code.RawText != "" {
			return code, nil
		}
	}
	return models.DecodedCode{}, ErrNotFound
}

// DecodePixels decodes a raw RGBA buffer such as a captured camera frame
func (c *Chain) DecodePixels(ctx context.Context, buf PixelBuffer) (models.DecodedCode, error) {
	img, err := buf.Image()
	if err != nil {
		return models.DecodedCode{}, ErrNotFound
	}
	return c.Decode(ctx, img)
}

// safeDecode shields callers from panics inside the decoding library.
func safeDecode(s Strategy, img image.Image) (code models.DecodedCode, err error) {
	defer func() {
		if r := recover(); r != nil {
			code = models.DecodedCode{}
			err = fmt.Errorf("%s strategy panicked: %v: %w", s.Name(), r, ErrNotFound)
		}
	}()
	return s.Decode(img)
}

// PixelBuffer is a canvas-style RGBA pixel buffer, 4 bytes per pixel
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []byte
}

// Image wraps the buffer as an *image.RGBA without copying
func (p PixelBuffer) Image() (*image.RGBA, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid pixel buffer size %dx%d", p.Width, p.Height)
	}
	if len(p.Pix) != p.Width*p.Height*4 {
		return nil, fmt.Errorf("pixel buffer length %d does not match %dx%d RGBA", len(p.Pix), p.Width, p.Height)
	}
	return &image.RGBA{
		Pix:    p.Pix,
		Stride: p.Width * 4,
		Rect:   image.Rect(0, 0, p.Width, p.Height),
	}, nil
}
