package analyzer

import (
	"image"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// MetricsCalculator computes the frame statistics the gate relies on
type MetricsCalculator interface {
	CalculateLaplacianVariance(gray *image.Gray) float64
	CalculateBrightnessContrast(gray *image.Gray) (brightness, contrast float64)
}

// metricsCalculator implements MetricsCalculator with Gonum
type metricsCalculator struct {
	slicePool sync.Pool
}

// NewMetricsCalculator creates a new metrics calculator using Gonum
func NewMetricsCalculator() MetricsCalculator {
	return &metricsCalculator{
		slicePool: sync.Pool{
			New: func() interface{} {
				return make([]float64, 0, 1024)
			},
		},
	}
}

// CalculateLaplacianVariance measures sharpness; blurred or blank frames score low
func (mc *metricsCalculator) CalculateLaplacianVariance(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return 0
	}

	data := mc.slicePool.Get().([]float64)
	defer func() { mc.slicePool.Put(data[:0]) }()

	if cap(data) < (width-2)*(height-2) {
		data = make([]float64, 0, (width-2)*(height-2))
	}

	// Laplacian kernel: [0, 1, 0; 1, -4, 1; 0, 1, 0]
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			center := float64(gray.GrayAt(x, y).Y)
			top := float64(gray.GrayAt(x, y-1).Y)
			bottom := float64(gray.GrayAt(x, y+1).Y)
			left := float64(gray.GrayAt(x-1, y).Y)
			right := float64(gray.GrayAt(x+1, y).Y)

			data = append(data, -4*center+top+bottom+left+right)
		}
	}

	return stat.Variance(data, nil)
}

// CalculateBrightnessContrast returns mean intensity and its standard deviation
func (mc *metricsCalculator) CalculateBrightnessContrast(gray *image.Gray) (float64, float64) {
	bounds := gray.Bounds()
	if bounds.Empty() {
		return 0, 0
	}

	data := mc.slicePool.Get().([]float64)
	defer func() { mc.slicePool.Put(data[:0]) }()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			data = append(data, float64(gray.GrayAt(x, y).Y))
		}
	}

	mean, std := stat.MeanStdDev(data, nil)
	if len(data) < 2 {
		std = 0
	}
	return mean, std
}
