package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/sirupsen/logrus"

	"go-product-verifier/internal/analyzer"
	"go-product-verifier/internal/capture"
	"go-product-verifier/internal/config"
	"go-product-verifier/internal/decoder"
	apperrors "go-product-verifier/internal/errors"
	"go-product-verifier/internal/flow"
	"go-product-verifier/internal/logger"
	"go-product-verifier/internal/observer"
	"go-product-verifier/internal/ocr"
	"go-product-verifier/internal/scanner"
	"go-product-verifier/internal/storage"
	"go-product-verifier/internal/verification"
	"go-product-verifier/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.SetOutput(io.Discard)
}

func qrPNG(t *testing.T, text string) []byte {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	if err != nil {
		t.Fatalf("failed to encode QR: %v", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, matrix); err != nil {
		t.Fatalf("failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

type fakeBlobs struct {
	data []byte
}

func (f fakeBlobs) GetImage(ctx context.Context, container, blob string) (image.Image, error) {
	if blob != "label.png" {
		return nil, fmt.Errorf("blob %s/%s not found", container, blob)
	}
	img, _, err := image.Decode(bytes.NewReader(f.data))
	return img, err
}

type fakeRecognizer struct{}

func (fakeRecognizer) RecognizeText(ctx context.Context, image []byte) (string, error) {
	return "KHIRA CHOKADA\nCode: KC2024009\n", nil
}

type testEnv struct {
	handler http.Handler
	deps    Dependencies
	events  *observer.EventPublisher
}

func newTestEnv(t *testing.T, withBlobs bool) *testEnv {
	t.Helper()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/product/verify/KC2024001", "/product/verify/KC123":
			w.Write([]byte(`{"message":"Product verified"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Not found"}`))
		}
	}))
	t.Cleanup(api.Close)

	snapshot := qrPNG(t, "https://khirachokada.com/verify-product?verify=KC2024001")
	cameraServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(snapshot)
	}))
	t.Cleanup(cameraServer.Close)

	cfg := &config.Config{
		RequestTimeout:       5 * time.Second,
		MaxRequestBodySize:   10 * 1024 * 1024,
		ScanPollRate:         20,
		ScanMaxFrameFailures: 5,
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	events := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	events.Subscribe(metrics)

	dec := decoder.NewPooledDecoder(decoder.New(decoder.DefaultOptions()), 2)
	t.Cleanup(dec.Close)

	controller := flow.NewController(verification.NewClient(api.URL, time.Second, quiet), events, quiet)
	orchestrator := scanner.New(dec, analyzer.NewFrameGate(analyzer.GateOptions{}), events, quiet, scanner.Options{PollRate: 20})
	orchestrator.SetHandoff(controller.Request)
	t.Cleanup(orchestrator.Close)

	camera := capture.NewSnapshotCamera([]capture.SnapshotDevice{{
		Device:      capture.Device{ID: "cam-0", Label: "Rear dock camera"},
		SnapshotURL: cameraServer.URL + "/snap.png",
	}}, storage.NewHTTPImageFetcher(storage.DefaultFetcherOptions()), quiet)

	deps := Dependencies{
		Decoder: dec,
		Flow:    controller,
		Camera:  camera,
		Scanner: orchestrator,
		Sink:    capture.NewLatestFrameSink(),
		Labels:  ocr.NewLabelReader(fakeRecognizer{}),
		Events:  events,
		Metrics: metrics,
	}
	if withBlobs {
		deps.Blobs = fakeBlobs{data: qrPNG(t, "https://x/y?verify=KC123")}
	}

	return &testEnv{handler: NewHandler(deps, cfg), deps: deps, events: events}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, path, contentType string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="upload.bin"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("failed to create part: %v", err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "available") {
		t.Errorf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestVerifyProductView(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name    string
		path    string
		valid   bool
		message string
	}{
		{"valid code", "/verify-product?verify=KC2024001", true, "Product verified"},
		{"unknown code", "/verify-product?verify=NOPE", false, "Not found"},
		{"missing code", "/verify-product", false, "No verification code provided."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", w.Code)
			}
			var state models.VerificationState
			if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
				t.Fatalf("bad JSON: %v", err)
			}
			if state.Result == nil || state.Result.IsValid != tt.valid || state.Result.Message != tt.message {
				t.Errorf("unexpected state %+v", state)
			}
		})
	}
}

func TestSubmitManual(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader(`{"code":"  KC2024001 "}`))
	req.Header.Set("Content-Type", "application/json")
	w := env.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp models.ScanResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != "KC2024001" || resp.Redirect != "/verify-product?verify=KC2024001" {
		t.Errorf("unexpected response %+v", resp)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader(`{"code":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	w = env.do(req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if msg := decodeError(t, w).Message; msg != "Please enter a product code." {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestScanUpload(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name        string
		contentType string
		data        []byte
		origin      string
		status      int
		code        string
		message     string
	}{
		{"qr image", "image/png", qrPNG(t, "https://x/y?verify=KC123"), "picker", http.StatusOK, "KC123", ""},
		{"text dropped", "text/plain", []byte("hello"), "drop", http.StatusBadRequest, "", apperrors.MsgDropImage},
		{"text picked", "text/plain", []byte("hello"), "picker", http.StatusBadRequest, "", apperrors.MsgSelectImage},
		{"no qr code", "image/png", blankPNG(t), "picker", http.StatusUnprocessableEntity, "", apperrors.MsgNoQRCode},
		{"unsupported payload", "image/png", qrPNG(t, "hello world"), "drop", http.StatusUnprocessableEntity, "", "QR code not supported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := multipartRequest(t, "/api/scan/upload", tt.contentType, tt.data, map[string]string{"origin": tt.origin})
			w := env.do(req)
			if w.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status == http.StatusOK {
				var resp models.ScanResponse
				json.Unmarshal(w.Body.Bytes(), &resp)
				if resp.Code != tt.code || resp.Redirect != "/verify-product?verify="+tt.code {
					t.Errorf("unexpected response %+v", resp)
				}
				return
			}
			if msg := decodeError(t, w).Message; msg != tt.message {
				t.Errorf("Expected %q, got %q", tt.message, msg)
			}
		})
	}
}

func TestScanUpload_MissingFile(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/scan/upload", strings.NewReader("origin=drop"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := env.do(req)
	if w.Code != http.StatusBadRequest || decodeError(t, w).Message != apperrors.MsgDropImage {
		t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestScanBlob(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, false)
		req := httptest.NewRequest(http.MethodPost, "/api/scan/blob", strings.NewReader(`{"container":"labels","blob":"label.png"}`))
		req.Header.Set("Content-Type", "application/json")
		if w := env.do(req); w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", w.Code)
		}
	})

	env := newTestEnv(t, true)
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"found", `{"container":"labels","blob":"label.png"}`, http.StatusOK},
		{"missing blob name", `{"container":"labels"}`, http.StatusBadRequest},
		{"unknown blob", `{"container":"labels","blob":"other.png"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/scan/blob", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := env.do(req)
			if w.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.status == http.StatusOK && !strings.Contains(w.Body.String(), `"code":"KC123"`) {
				t.Errorf("unexpected body %s", w.Body.String())
			}
		})
	}
}

func TestReadLabel(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(multipartRequest(t, "/api/scan/label", "image/png", blankPNG(t), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp models.LabelReadResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != "KC2024009" {
		t.Errorf("unexpected label code %+v", resp)
	}
}

func TestCameraSession(t *testing.T) {
	env := newTestEnv(t, false)

	if w := env.do(httptest.NewRequest(http.MethodGet, "/api/scan/camera/frame", nil)); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before any frame, got %d", w.Code)
	}

	w := env.do(httptest.NewRequest(http.MethodPost, "/api/scan/camera/start", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"started":true`) {
		t.Fatalf("unexpected start response %d %s", w.Code, w.Body.String())
	}

	var status models.CameraStatusResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w = env.do(httptest.NewRequest(http.MethodGet, "/api/scan/camera", nil))
		json.Unmarshal(w.Body.Bytes(), &status)
		if status.Verification.Result != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if status.Session.Status != models.ScanStatusResolved || status.Session.Code != "KC2024001" {
		t.Fatalf("Expected resolved session, got %+v", status.Session)
	}
	if !status.Verification.Result.IsValid || status.Verification.Result.Message != "Product verified" {
		t.Errorf("unexpected verification %+v", status.Verification)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/scan/camera/frame", nil))
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("Expected JPEG preview, got %d %s", w.Code, w.Header().Get("Content-Type"))
	}

	if w = env.do(httptest.NewRequest(http.MethodPost, "/api/scan/camera/stop", nil)); w.Code != http.StatusOK {
		t.Errorf("Expected stop to succeed, got %d", w.Code)
	}

	env.events.Flush()
	w = env.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if !strings.Contains(w.Body.String(), `"codes_decoded":1`) {
		t.Errorf("Expected one decoded code in stats, got %s", w.Body.String())
	}
}

func TestCameraStart_NoDevices(t *testing.T) {
	env := newTestEnv(t, false)
	env.deps.Camera = capture.NewSnapshotCamera(nil, storage.NewHTTPImageFetcher(storage.DefaultFetcherOptions()), logger.Logger)
	handler := NewHandler(env.deps, &config.Config{RequestTimeout: time.Second, MaxRequestBodySize: 1024})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/scan/camera/start", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", w.Code)
	}
	if msg := decodeError(t, w).Message; msg != apperrors.MsgNoCamera {
		t.Errorf("unexpected message %q", msg)
	}
}
