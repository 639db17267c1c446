package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	apperrors "go-product-verifier/internal/errors"
	"go-product-verifier/internal/storage"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestCamera(t *testing.T, handler http.HandlerFunc) *SnapshotCamera {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	devices := []SnapshotDevice{{
		Device:      Device{ID: "cam-0", Label: "Dock camera"},
		SnapshotURL: server.URL + "/snap.png",
	}}
	return NewSnapshotCamera(devices, storage.NewHTTPImageFetcher(storage.DefaultFetcherOptions()), quietLogger())
}

func TestSnapshotCamera_OpenAndFrame(t *testing.T) {
	data := pngBytes(t, 20, 10)
	cam := newTestCamera(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	})

	if err := cam.CheckPermission(context.Background()); err != nil {
		t.Fatalf("unexpected permission error: %v", err)
	}

	stream, err := cam.Open(context.Background(), "cam-0")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	frame, err := stream.Frame(context.Background())
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	if frame.Bounds().Dx() != 20 || frame.Bounds().Dy() != 10 {
		t.Errorf("unexpected frame size %v", frame.Bounds())
	}

	stream.Close()
	stream.Close()
	if _, err := stream.Frame(context.Background()); err == nil {
		t.Error("Expected closed stream to refuse frames")
	}
}

func TestSnapshotCamera_PermissionDenied(t *testing.T) {
	cam := newTestCamera(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := cam.CheckPermission(context.Background())
	if !apperrors.IsType(err, apperrors.ErrorTypePermission) {
		t.Fatalf("Expected permission error, got %v", err)
	}

	_, err = cam.Open(context.Background(), "cam-0")
	if !apperrors.IsType(err, apperrors.ErrorTypePermission) {
		t.Errorf("Expected permission error from Open, got %v", err)
	}
}

func TestSnapshotCamera_Unavailable(t *testing.T) {
	var calls int32
	cam := newTestCamera(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if err := cam.CheckPermission(context.Background()); err != nil {
		t.Errorf("Expected non-auth failure to pass the permission check, got %v", err)
	}

	_, err := cam.Open(context.Background(), "cam-0")
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Type != apperrors.ErrorTypeDevice || appErr.Message != apperrors.MsgCameraUnavailable {
		t.Errorf("Expected camera unavailable device error, got %v", err)
	}

	_, err = cam.Open(context.Background(), "missing")
	appErr, ok = apperrors.As(err)
	if !ok || appErr.Message != apperrors.MsgNoCamera {
		t.Errorf("Expected no camera error for unknown device, got %v", err)
	}
}

func TestLatestFrameSink(t *testing.T) {
	sink := NewLatestFrameSink()

	if _, ok, _ := sink.JPEG(80); ok {
		t.Error("Expected empty sink to report no frame")
	}

	sink.Draw(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	data, ok, err := sink.JPEG(80)
	if err != nil || !ok || len(data) == 0 {
		t.Fatalf("Expected encoded frame, got ok=%v err=%v", ok, err)
	}

	sink.Clear()
	if img, _ := sink.Latest(); img != nil {
		t.Error("Expected cleared sink")
	}
}
