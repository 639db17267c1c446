package capture

import (
	"context"
	"image"
	"io"
	"sync"
)

// StillStream presents one decoded image as a single-frame stream so uploads
// share the camera's teardown path. Close discards the image.
type StillStream struct {
	mu   sync.Mutex
	img  image.Image
	sent bool
}

// NewStillStream wraps img
func NewStillStream(img image.Image) *StillStream {
	return &StillStream{img: img}
}

// Frame returns the image once, then io.EOF
func (s *StillStream) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img == nil || s.sent {
		return nil, io.EOF
	}
	s.sent = true
	return s.img, nil
}

// Close drops the image reference
func (s *StillStream) Close() error {
	s.mu.Lock()
	s.img = nil
	s.mu.Unlock()
	return nil
}
