// Package analyzer screens camera frames before they reach the QR decoder.
package analyzer

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// FrameQuality is the gate's verdict for one frame
type FrameQuality struct {
	Sharpness  float64 `json:"sharpness"`
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Usable     bool    `json:"usable"`
	Reason     string  `json:"reason,omitempty"`
}

// GateOptions holds the gate thresholds
type GateOptions struct {
	MinSharpness  float64
	MinContrast   float64
	MinBrightness float64
	SampleSize    int
}

// DefaultGateOptions returns thresholds that only reject blank, black or badly blurred frames
func DefaultGateOptions() GateOptions {
	return GateOptions{
		MinSharpness:  15,
		MinContrast:   8,
		MinBrightness: 12,
		SampleSize:    320,
	}
}

// FrameGate decides whether a frame is worth decoding
type FrameGate struct {
	opts    GateOptions
	metrics MetricsCalculator
}

// NewFrameGate creates a gate; zero-valued options take their defaults
func NewFrameGate(opts GateOptions) *FrameGate {
	defaults := DefaultGateOptions()
	if opts.MinSharpness <= 0 {
		opts.MinSharpness = defaults.MinSharpness
	}
	if opts.MinContrast <= 0 {
		opts.MinContrast = defaults.MinContrast
	}
	if opts.MinBrightness <= 0 {
		opts.MinBrightness = defaults.MinBrightness
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaults.SampleSize
	}
	return &FrameGate{opts: opts, metrics: NewMetricsCalculator()}
}

// Assess measures a downsampled grayscale copy of img
func (g *FrameGate) Assess(img image.Image) FrameQuality {
	if img == nil || img.Bounds().Empty() {
		return FrameQuality{Reason: "empty frame"}
	}

	gray := g.sample(img)
	q := FrameQuality{Sharpness: g.metrics.CalculateLaplacianVariance(gray)}
	q.Brightness, q.Contrast = g.metrics.CalculateBrightnessContrast(gray)

	switch {
	case q.Brightness < g.opts.MinBrightness:
		q.Reason = "too dark"
	case q.Contrast < g.opts.MinContrast:
		q.Reason = "no contrast"
	case q.Sharpness < g.opts.MinSharpness:
		q.Reason = "too blurry"
	default:
		q.Usable = true
	}
	return q
}

// Usable is the short form of Assess used by the scan loop
func (g *FrameGate) Usable(img image.Image) bool {
	return g.Assess(img).Usable
}

func (g *FrameGate) sample(img image.Image) *image.Gray {
	b := img.Bounds()
	scale := math.Min(1, float64(g.opts.SampleSize)/float64(max(b.Dx(), b.Dy())))
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))

	gray := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(gray, gray.Bounds(), img, b, xdraw.Src, nil)
	return gray
}
