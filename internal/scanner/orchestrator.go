// Package scanner owns the scan session lifecycle: it acquires a capture
// source, polls it for frames, hands frames to the decoder and releases the
// source on every exit path.
package scanner

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go-product-verifier/internal/capture"
	"go-product-verifier/internal/decoder"
	apperrors "go-product-verifier/internal/errors"
	"go-product-verifier/internal/observer"
	"go-product-verifier/pkg/models"
)

// Handoff receives the extracted verification code of a resolved scan
type Handoff func(code string)

// FrameGate filters frames that are not worth decoding
type FrameGate interface {
	Usable(img image.Image) bool
}

// Options tunes the polling loop
type Options struct {
	PollRate         int
	MaxFrameFailures int
}

// DefaultOptions returns ten polls per second and a 30 frame failure budget
func DefaultOptions() Options {
	return Options{
		PollRate:         10,
		MaxFrameFailures: 30,
	}
}

// Orchestrator runs at most one scan session at a time
type Orchestrator struct {
	decoder decoder.Decoder
	gate    FrameGate
	events  observer.Subject
	logger  *logrus.Logger
	opts    Options

	mu         sync.Mutex
	session    models.ScanSession
	permission *bool
	preference capture.Preference
	generation uint64
	handoff    Handoff
	release    func()
	cancel     context.CancelFunc
	done       chan struct{}

	active   atomic.Bool
	resolved atomic.Bool
}

// New creates an idle orchestrator. gate and events may be nil.
func New(dec decoder.Decoder, gate FrameGate, events observer.Subject, logger *logrus.Logger, opts Options) *Orchestrator {
	defaults := DefaultOptions()
	if opts.PollRate <= 0 {
		opts.PollRate = defaults.PollRate
	}
	if opts.MaxFrameFailures <= 0 {
		opts.MaxFrameFailures = defaults.MaxFrameFailures
	}
	if events == nil {
		events = observer.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Orchestrator{
		decoder: dec,
		gate:    gate,
		events:  events,
		logger:  logger,
		opts:    opts,
		session: models.ScanSession{Status: models.ScanStatusIdle},
	}
}

// SetHandoff sets the receiver for resolved codes
func (o *Orchestrator) SetHandoff(h Handoff) {
	o.mu.Lock()
	o.handoff = h
	o.mu.Unlock()
}

// Session returns a snapshot of the current session
func (o *Orchestrator) Session() models.ScanSession {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.session
	if o.permission != nil {
		p := *o.permission
		s.CameraPermission = &p
	}
	return s
}

// beginLocked resets state for a new session. Caller must hold o.mu.
func (o *Orchestrator) beginLocked(source models.ScanSource) uint64 {
	o.generation++
	o.resolved.Store(false)
	o.release = nil
	o.cancel = nil
	o.done = nil
	o.session = models.ScanSession{
		ID:        uuid.New().String(),
		Status:    models.ScanStatusInitializing,
		Source:    source,
		StartedAt: time.Now(),
	}
	return o.generation
}

// StartCamera starts a camera session. It is a no-op returning false while
// another session is initializing or scanning.
func (o *Orchestrator) StartCamera(ctx context.Context, cam capture.Camera, sink capture.FrameSink, pref capture.Preference) (bool, error) {
	o.mu.Lock()
	if o.session.Status.Active() {
		o.mu.Unlock()
		return false, nil
	}
	gen := o.beginLocked(models.ScanSourceCamera)
	o.preference = pref
	sessionID := o.session.ID
	o.mu.Unlock()

	log := o.logger.WithField("session_id", sessionID)

	err := cam.CheckPermission(ctx)
	o.mu.Lock()
	if gen == o.generation {
		granted := err == nil
		o.permission = &granted
	}
	o.mu.Unlock()
	if err != nil {
		if !apperrors.IsType(err, apperrors.ErrorTypePermission) {
			err = apperrors.NewPermissionError(apperrors.MsgPermissionDenied, err)
		}
		o.fail(gen, err)
		return true, err
	}

	devices, err := cam.Devices(ctx)
	if err != nil {
		err = apperrors.NewDeviceError(apperrors.MsgCameraUnavailable, err)
		o.fail(gen, err)
		return true, err
	}
	device, ok := capture.SelectDevice(devices, pref)
	if !ok {
		err = apperrors.NewDeviceError(apperrors.MsgNoCamera, nil)
		o.fail(gen, err)
		return true, err
	}

	if sink == nil {
		err = apperrors.NewDeviceError(apperrors.MsgRenderTarget, nil)
		o.fail(gen, err)
		return true, err
	}

	stream, err := cam.Open(ctx, device.ID)
	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.NewDeviceError(apperrors.MsgCameraStartFailed, err)
		}
		o.fail(gen, err)
		return true, err
	}

	o.mu.Lock()
	if gen != o.generation || o.session.Status != models.ScanStatusInitializing {
		// Stopped while the device was being acquired
		o.mu.Unlock()
		stream.Close()
		log.Debug("Discarded camera stream opened after stop")
		return true, nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.release = onceRelease(stream)
	o.cancel = cancel
	o.done = done
	o.session.Status = models.ScanStatusScanning
	o.session.DeviceID = device.ID
	o.session.DeviceLabel = device.Label
	o.active.Store(true)
	o.mu.Unlock()

	log.WithFields(logrus.Fields{
		"device":    device.ID,
		"label":     device.Label,
		"poll_rate": o.opts.PollRate,
	}).Info("Camera scanning started")
	o.events.NotifyObservers(ctx, observer.Event{
		EventType: observer.ScanStarted,
		SessionID: sessionID,
		Source:    string(models.ScanSourceCamera),
		Success:   true,
		Metadata:  map[string]interface{}{"device": device.ID},
	})

	go o.poll(loopCtx, gen, stream, sink, done)
	return true, nil
}

// poll is the frame loop. It exits on cancellation, on resolution and on
// too many consecutive frame failures.
func (o *Orchestrator) poll(ctx context.Context, gen uint64, stream capture.Stream, sink capture.FrameSink, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(o.opts.PollRate))
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !o.active.Load() {
			return
		}

		frame, err := stream.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= o.opts.MaxFrameFailures {
				o.fail(gen, apperrors.NewDeviceError(apperrors.MsgCameraUnavailable, err))
				return
			}
			continue
		}
		failures = 0

		sink.Draw(frame)
		o.countFrame(gen)

		if o.gate != nil && !o.gate.Usable(frame) {
			continue
		}

		code, err := o.decoder.Decode(ctx, frame)
		if err != nil {
			continue
		}
		if !o.active.Load() {
			return
		}
		o.resolve(ctx, gen, code)
		return
	}
}

// ScanUpload runs a single decode attempt against a still source. An active
// camera session is stopped first; a concurrent upload is rejected.
func (o *Orchestrator) ScanUpload(ctx context.Context, src capture.Stream) (string, error) {
	o.mu.Lock()
	if o.session.Status.Active() && o.session.Source == models.ScanSourceUpload {
		o.mu.Unlock()
		src.Close()
		return "", apperrors.NewConflictError("An image is already being scanned.", nil)
	}
	cameraActive := o.session.Status.Active()
	o.mu.Unlock()

	if cameraActive {
		o.Stop()
	}

	o.mu.Lock()
	gen := o.beginLocked(models.ScanSourceUpload)
	o.release = onceRelease(src)
	o.session.Status = models.ScanStatusScanning
	o.active.Store(true)
	sessionID := o.session.ID
	o.mu.Unlock()

	o.events.NotifyObservers(ctx, observer.Event{
		EventType: observer.ScanStarted,
		SessionID: sessionID,
		Source:    string(models.ScanSourceUpload),
		Success:   true,
	})

	frame, err := src.Frame(ctx)
	if err != nil {
		err = apperrors.NewValidationError(apperrors.MsgImageProcessing, err)
		o.reject(ctx, gen, err)
		return "", err
	}

	code, err := o.decoder.Decode(ctx, frame)
	switch {
	case errors.Is(err, decoder.ErrNotFound):
		err = apperrors.NewNotFoundError(apperrors.MsgNoQRCode, err)
		o.reject(ctx, gen, err)
		return "", err
	case errors.Is(err, context.DeadlineExceeded):
		err = apperrors.NewTimeoutError(apperrors.MsgImageProcessing, err)
		o.reject(ctx, gen, err)
		return "", err
	case err != nil:
		err = apperrors.NewValidationError(apperrors.MsgImageProcessing, err)
		o.reject(ctx, gen, err)
		return "", err
	}

	return o.resolve(ctx, gen, code)
}

// resolve accepts the first decoded code of the session. Later calls, and
// calls from a superseded session, are discarded.
func (o *Orchestrator) resolve(ctx context.Context, gen uint64, code models.DecodedCode) (string, error) {
	o.mu.Lock()
	if gen != o.generation || !o.session.Status.Active() || !o.resolved.CompareAndSwap(false, true) {
		o.mu.Unlock()
		return "", apperrors.NewConflictError("Scan is no longer active.", nil)
	}
	o.teardownLocked()

	sessionID := o.session.ID
	source := o.session.Source
	extracted, err := ExtractCode(code.RawText)
	if err != nil {
		o.session.Status = models.ScanStatusIdle
		o.session.Error = apperrors.UserMessage(err)
		o.mu.Unlock()

		o.events.NotifyObservers(ctx, observer.Event{
			EventType:    observer.UnsupportedCode,
			SessionID:    sessionID,
			Source:       string(source),
			ErrorMessage: err.Error(),
		})
		return "", err
	}

	o.session.Status = models.ScanStatusResolved
	o.session.Code = extracted
	handoff := o.handoff
	started := o.session.StartedAt
	o.mu.Unlock()

	o.events.NotifyObservers(ctx, observer.Event{
		EventType: observer.CodeDecoded,
		SessionID: sessionID,
		Source:    string(source),
		Code:      extracted,
		Duration:  time.Since(started),
		Success:   true,
	})

	if handoff != nil {
		handoff(extracted)
	}
	return extracted, nil
}

// reject ends an upload session with a non-fatal input error
func (o *Orchestrator) reject(ctx context.Context, gen uint64, err error) {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return
	}
	o.teardownLocked()
	o.session.Status = models.ScanStatusIdle
	o.session.Error = apperrors.UserMessage(err)
	sessionID := o.session.ID
	o.mu.Unlock()

	o.events.NotifyObservers(ctx, observer.Event{
		EventType:    observer.ScanFailed,
		SessionID:    sessionID,
		Source:       string(models.ScanSourceUpload),
		ErrorMessage: err.Error(),
	})
}

// fail moves the session to the error state and releases its source
func (o *Orchestrator) fail(gen uint64, err error) {
	o.mu.Lock()
	if gen != o.generation || !o.session.Status.Active() {
		o.mu.Unlock()
		return
	}
	o.teardownLocked()
	o.session.Status = models.ScanStatusError
	o.session.Error = apperrors.UserMessage(err)
	sessionID := o.session.ID
	source := o.session.Source
	o.mu.Unlock()

	o.logger.WithError(err).WithField("session_id", sessionID).Warn("Scan session failed")
	o.events.NotifyObservers(context.Background(), observer.Event{
		EventType:    observer.ScanFailed,
		SessionID:    sessionID,
		Source:       string(source),
		ErrorMessage: err.Error(),
	})
}

func (o *Orchestrator) countFrame(gen uint64) {
	o.mu.Lock()
	if gen == o.generation {
		o.session.FramesProcessed++
	}
	o.mu.Unlock()
}

// teardownLocked stops the loop and releases the source. Caller must hold o.mu.
func (o *Orchestrator) teardownLocked() {
	o.active.Store(false)
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	if o.release != nil {
		o.release()
		o.release = nil
	}
}

// Stop ends the active session. Calling it with nothing active is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.session.Status.Active() {
		o.mu.Unlock()
		return
	}
	o.teardownLocked()
	o.session.Status = models.ScanStatusStopped
	sessionID := o.session.ID
	source := o.session.Source
	done := o.done
	o.mu.Unlock()

	if done != nil {
		<-done
	}

	o.events.NotifyObservers(context.Background(), observer.Event{
		EventType: observer.ScanStopped,
		SessionID: sessionID,
		Source:    string(source),
		Success:   true,
	})
}

// Close tears the orchestrator down
func (o *Orchestrator) Close() {
	o.Stop()
}

// SwitchFacing restarts the camera with the other facing preference
func (o *Orchestrator) SwitchFacing(ctx context.Context, cam capture.Camera, sink capture.FrameSink) (bool, error) {
	o.mu.Lock()
	next := o.preference.Opposite()
	o.mu.Unlock()

	o.Stop()
	return o.StartCamera(ctx, cam, sink, next)
}

// Wait blocks until the current polling loop has exited
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// onceRelease closes stream at most once however often it is called
func onceRelease(stream capture.Stream) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			stream.Close()
		})
	}
}
