package capture

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "go-product-verifier/internal/errors"
	"go-product-verifier/internal/storage"
)

// SnapshotDevice is a network camera that serves a still image per request
type SnapshotDevice struct {
	Device
	SnapshotURL string
}

// idleCloser is implemented by fetchers that pool connections
type idleCloser interface {
	CloseIdleConnections()
}

// SnapshotCamera implements Camera by polling snapshot URLs
type SnapshotCamera struct {
	devices []SnapshotDevice
	fetcher storage.ImageFetcher
	logger  *logrus.Logger
}

// NewSnapshotCamera creates a camera over the given devices
func NewSnapshotCamera(devices []SnapshotDevice, fetcher storage.ImageFetcher, logger *logrus.Logger) *SnapshotCamera {
	return &SnapshotCamera{devices: devices, fetcher: fetcher, logger: logger}
}

// Devices lists the configured cameras
func (c *SnapshotCamera) Devices(ctx context.Context) ([]Device, error) {
	out := make([]Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d.Device)
	}
	return out, nil
}

// CheckPermission probes the first camera. A 401/403 answer means access is
// denied; any other failure is left for Open to report.
func (c *SnapshotCamera) CheckPermission(ctx context.Context) error {
	if len(c.devices) == 0 {
		return nil
	}
	_, err := c.fetcher.FetchImage(ctx, c.devices[0].SnapshotURL)
	if err != nil && storage.IsUnauthorized(err) {
		return apperrors.NewPermissionError(apperrors.MsgPermissionDenied, err)
	}
	if err != nil {
		c.logger.WithError(err).WithField("device", c.devices[0].ID).Debug("Permission probe failed")
	}
	return nil
}

// Open verifies the device answers with an image and returns its stream
func (c *SnapshotCamera) Open(ctx context.Context, deviceID string) (Stream, error) {
	var dev *SnapshotDevice
	for i := range c.devices {
		if c.devices[i].ID == deviceID {
			dev = &c.devices[i]
			break
		}
	}
	if dev == nil {
		return nil, apperrors.NewDeviceError(apperrors.MsgNoCamera, fmt.Errorf("unknown device %q", deviceID))
	}

	if _, err := c.fetcher.FetchImage(ctx, dev.SnapshotURL); err != nil {
		if storage.IsUnauthorized(err) {
			return nil, apperrors.NewPermissionError(apperrors.MsgPermissionDenied, err)
		}
		return nil, apperrors.NewDeviceError(apperrors.MsgCameraUnavailable, err)
	}

	c.logger.WithFields(logrus.Fields{
		"device": dev.ID,
		"label":  dev.Label,
	}).Info("Camera stream opened")

	return &snapshotStream{device: *dev, fetcher: c.fetcher, logger: c.logger}, nil
}

type snapshotStream struct {
	device  SnapshotDevice
	fetcher storage.ImageFetcher
	logger  *logrus.Logger

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

var errStreamClosed = fmt.Errorf("stream closed")

func (s *snapshotStream) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errStreamClosed
	}
	return s.fetcher.FetchImage(ctx, s.device.SnapshotURL)
}

func (s *snapshotStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if ic, ok := s.fetcher.(idleCloser); ok {
			ic.CloseIdleConnections()
		}
		s.logger.WithField("device", s.device.ID).Info("Camera stream released")
	})
	return nil
}
