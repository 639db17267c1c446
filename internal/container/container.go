package container

import (
	"fmt"
	"net/http"

	"go-product-verifier/internal/analyzer"
	"go-product-verifier/internal/capture"
	"go-product-verifier/internal/config"
	"go-product-verifier/internal/decoder"
	"go-product-verifier/internal/flow"
	"go-product-verifier/internal/logger"
	"go-product-verifier/internal/observer"
	"go-product-verifier/internal/ocr"
	"go-product-verifier/internal/ocr/tesseract"
	"go-product-verifier/internal/scanner"
	"go-product-verifier/internal/storage"
	"go-product-verifier/internal/transport"
	"go-product-verifier/internal/verification"
)

// Container holds all application dependencies
type Container struct {
	config       *config.Config
	events       *observer.EventPublisher
	metrics      *observer.MetricsObserver
	decoder      *decoder.PooledDecoder
	verifier     *verification.Client
	flow         *flow.Controller
	camera       *capture.SnapshotCamera
	sink         *capture.LatestFrameSink
	orchestrator *scanner.Orchestrator
	blobs        storage.BlobStorage
	labels       *ocr.LabelReader
	handler      http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	logger.SetLevel(cfg.LogLevel)

	// Build dependency graph
	events := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	dec := decoder.NewPooledDecoder(decoder.New(decoder.Options{
		FastPath:         cfg.DecoderFastPath,
		FastMaxDimension: cfg.DecoderFastMaxDimension,
	}), 0)

	verifier := verification.NewClient(cfg.VerifyBaseURL, cfg.VerifyTimeout, logger.Logger)
	controller := flow.NewController(verifier, events, logger.Logger)

	fetcher := storage.NewHTTPImageFetcher(storage.FetcherOptions{
		Timeout:       cfg.CameraFetchTimeout,
		MaxAttempts:   1,
		MaxImageBytes: cfg.MaxRequestBodySize,
	})
	camera := capture.NewSnapshotCamera(snapshotDevices(cfg.CameraDevices), fetcher, logger.Logger)

	gate := analyzer.NewFrameGate(analyzer.GateOptions{MinSharpness: cfg.FrameMinSharpness})
	orchestrator := scanner.New(dec, gate, events, logger.Logger, scanner.Options{
		PollRate:         cfg.ScanPollRate,
		MaxFrameFailures: cfg.ScanMaxFrameFailures,
	})
	orchestrator.SetHandoff(controller.Request)

	var blobs storage.BlobStorage
	if cfg.BlobStorageEnabled() {
		var err error
		blobs, err = storage.NewAzureStorage(cfg.AzureStorageAccount, cfg.AzureStorageKey, cfg.MaxRequestBodySize)
		if err != nil {
			return nil, fmt.Errorf("failed to create blob storage: %w", err)
		}
	}

	labels := ocr.NewLabelReader(tesseract.New(cfg.OCRLanguage))
	sink := capture.NewLatestFrameSink()

	handler := transport.NewHandler(transport.Dependencies{
		Decoder: dec,
		Flow:    controller,
		Camera:  camera,
		Scanner: orchestrator,
		Sink:    sink,
		Blobs:   blobs,
		Labels:  labels,
		Events:  events,
		Metrics: metrics,
	}, cfg)

	return &Container{
		config:       cfg,
		events:       events,
		metrics:      metrics,
		decoder:      dec,
		verifier:     verifier,
		flow:         controller,
		camera:       camera,
		sink:         sink,
		orchestrator: orchestrator,
		blobs:        blobs,
		labels:       labels,
		handler:      handler,
	}, nil
}

func snapshotDevices(devices []config.CameraDevice) []capture.SnapshotDevice {
	out := make([]capture.SnapshotDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, capture.SnapshotDevice{
			Device:      capture.Device{ID: d.ID, Label: d.Label, Facing: d.Facing},
			SnapshotURL: d.SnapshotURL,
		})
	}
	return out
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Decoder returns the shared pooled decoder
func (c *Container) Decoder() decoder.Decoder {
	return c.decoder
}

// Flow returns the verification flow controller
func (c *Container) Flow() *flow.Controller {
	return c.flow
}

// Camera returns the configured snapshot camera
func (c *Container) Camera() *capture.SnapshotCamera {
	return c.camera
}

// Sink returns the camera preview sink
func (c *Container) Sink() *capture.LatestFrameSink {
	return c.sink
}

// Scanner returns the camera scan orchestrator
func (c *Container) Scanner() *scanner.Orchestrator {
	return c.orchestrator
}

// Events returns the event publisher
func (c *Container) Events() *observer.EventPublisher {
	return c.events
}

// Labels returns the printed-label reader
func (c *Container) Labels() *ocr.LabelReader {
	return c.labels
}

// Close stops the camera session, drains the decoder pool and flushes events
func (c *Container) Close() {
	c.orchestrator.Close()
	c.flow.Wait()
	c.decoder.Close()
	c.events.Flush()
}
