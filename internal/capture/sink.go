package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
	"time"
)

// FrameSink is the render target a scanning session draws frames into
type FrameSink interface {
	Draw(img image.Image)
}

// LatestFrameSink keeps only the most recent frame, for preview
type LatestFrameSink struct {
	mu      sync.RWMutex
	frame   image.Image
	updated time.Time
}

// NewLatestFrameSink creates an empty sink
func NewLatestFrameSink() *LatestFrameSink {
	return &LatestFrameSink{}
}

// Draw replaces the stored frame
func (s *LatestFrameSink) Draw(img image.Image) {
	s.mu.Lock()
	s.frame = img
	s.updated = time.Now()
	s.mu.Unlock()
}

// Latest returns the stored frame and when it was drawn
func (s *LatestFrameSink) Latest() (image.Image, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.updated
}

// Clear drops the stored frame
func (s *LatestFrameSink) Clear() {
	s.mu.Lock()
	s.frame = nil
	s.updated = time.Time{}
	s.mu.Unlock()
}

// JPEG encodes the latest frame; ok is false when nothing has been drawn
func (s *LatestFrameSink) JPEG(quality int) ([]byte, bool, error) {
	img, _ := s.Latest()
	if img == nil {
		return nil, false, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, true, err
	}
	return buf.Bytes(), true, nil
}
