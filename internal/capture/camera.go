// Package capture provides the two ways a code image reaches the scanner:
// a live camera stream and a one-shot uploaded file.
package capture

import (
	"context"
	"image"
	"strings"
)

// Facing values reported by devices that know where they point
const (
	FacingEnvironment = "environment"
	FacingUser        = "user"
)

// Device describes one camera
type Device struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Facing string `json:"facing,omitempty"`
}

// Camera lists devices and opens frame streams
type Camera interface {
	Devices(ctx context.Context) ([]Device, error)
	CheckPermission(ctx context.Context) error
	Open(ctx context.Context, deviceID string) (Stream, error)
}

// Stream yields frames until closed. Close must be safe to call more than once.
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// Preference narrows device selection
type Preference struct {
	DeviceID string `json:"device_id,omitempty"`
	Facing   string `json:"facing,omitempty"`
}

// WantsFront reports whether the caller asked for the user-facing camera
func (p Preference) WantsFront() bool {
	return strings.EqualFold(p.Facing, FacingUser) || strings.EqualFold(p.Facing, "front")
}

// Opposite returns the preference for the other side of the device
func (p Preference) Opposite() Preference {
	if p.WantsFront() {
		return Preference{Facing: FacingEnvironment}
	}
	return Preference{Facing: FacingUser}
}

// SelectDevice picks the camera to open. Rear cameras are preferred unless the
// caller asks for the front one. Returns false when devices is empty.
func SelectDevice(devices []Device, pref Preference) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}

	if pref.DeviceID != "" {
		for _, d := range devices {
			if d.ID == pref.DeviceID {
				return d, true
			}
		}
	}

	front := pref.WantsFront()
	wantFacing := FacingEnvironment
	if front {
		wantFacing = FacingUser
	}
	for _, d := range devices {
		if strings.EqualFold(d.Facing, wantFacing) {
			return d, true
		}
	}

	for _, d := range devices {
		if front && isFrontLabel(d.Label) {
			return d, true
		}
		if !front && isRearLabel(d.Label) {
			return d, true
		}
	}

	if !front {
		for _, d := range devices {
			if !isFrontLabel(d.Label) && !strings.EqualFold(d.Facing, FacingUser) {
				return d, true
			}
		}
	}

	return devices[0], true
}

func isRearLabel(label string) bool {
	l := strings.ToLower(label)
	if strings.Contains(l, "back") || strings.Contains(l, "rear") || strings.Contains(l, "environment") {
		return true
	}
	// Phones commonly list the rear camera as "camera 2"
	return strings.Contains(l, "2") && !strings.Contains(l, "front")
}

func isFrontLabel(label string) bool {
	l := strings.ToLower(label)
	return strings.Contains(l, "front") || strings.Contains(l, "facetime")
}
