package transport

import (
	"context"
	"errors"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

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
	"go-product-verifier/pkg/models"
)

// Dependencies are the services behind the HTTP surface. Blobs and Labels
// are optional; their endpoints answer 503 when nil.
type Dependencies struct {
	Decoder decoder.Decoder
	Flow    *flow.Controller
	Camera  capture.Camera
	Scanner *scanner.Orchestrator
	Sink    *capture.LatestFrameSink
	Blobs   storage.BlobStorage
	Labels  *ocr.LabelReader
	Events  observer.Subject
	Metrics *observer.MetricsObserver
}

func NewHandler(deps Dependencies, cfg *config.Config) http.Handler {
	r := gin.Default()

	// Add middleware
	r.Use(
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck)
	r.GET(flow.VerifyPath, verifyProduct(deps.Flow, cfg))

	api := r.Group("/api")
	api.POST("/verify", submitManual(deps.Flow))
	api.GET("/stats", stats(deps.Metrics))

	scan := api.Group("/scan")
	scan.POST("/upload", scanUpload(deps, cfg))
	scan.POST("/blob", scanBlob(deps, cfg))
	scan.POST("/label", readLabel(deps.Labels, cfg))

	cam := scan.Group("/camera")
	cam.POST("/start", startCamera(deps))
	cam.POST("/stop", stopCamera(deps))
	cam.POST("/switch", switchCamera(deps))
	cam.GET("", cameraStatus(deps))
	cam.GET("/frame", cameraFrame(deps.Sink))

	return r
}

func verifyProduct(f *flow.Controller, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		code := c.Query("verify")
		state := f.Resolve(ctx, code)

		logger.WithFields(logrus.Fields{
			"code":  code,
			"valid": state.Result != nil && state.Result.IsValid,
			"error": state.Error,
			"ip":    c.ClientIP(),
		}).Info("Verification view resolved")

		c.JSON(http.StatusOK, state)
	}
}

func submitManual(f *flow.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ManualVerifyRequest
		if err := c.ShouldBind(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request format", err)
			return
		}

		code, redirect, err := f.SubmitManual(models.ManualEntryState{Code: req.Code})
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "invalid product code", err)
			return
		}

		c.JSON(http.StatusOK, models.ScanResponse{Code: code, Redirect: redirect})
	}
}

func scanUpload(deps Dependencies, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		origin := capture.ParseOrigin(c.PostForm("origin"))
		upload, err := readFormUpload(c, origin, cfg.MaxRequestBodySize)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "invalid upload", err)
			return
		}

		img, err := capture.DecodeUpload(upload)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "invalid upload", err)
			return
		}

		code, err := scanStill(ctx, deps, cfg, img)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "scan failed", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"filename":           upload.Filename,
			"origin":             origin,
			"code":               code,
			"processing_time_ms": time.Since(startTime).Milliseconds(),
		}).Info("Uploaded image scanned")

		c.JSON(http.StatusOK, models.ScanResponse{Code: code, Redirect: flow.RedirectFor(code)})
	}
}

func scanBlob(deps Dependencies, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Blobs == nil {
			err := apperrors.NewUnavailableError("Blob storage is not configured.", nil)
			respondError(c, err.StatusCode, "blob scan unavailable", err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		var req models.BlobScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request format", err)
			return
		}

		img, err := deps.Blobs.GetImage(ctx, req.Container, req.Blob)
		if err != nil {
			var fetchErr *apperrors.AppError
			if errors.Is(err, context.DeadlineExceeded) {
				fetchErr = apperrors.NewTimeoutError("Image fetch timeout", err)
			} else {
				fetchErr = apperrors.NewNetworkError("Failed to fetch image", err)
			}
			respondError(c, fetchErr.StatusCode, "failed to fetch blob", fetchErr)
			return
		}

		code, err := scanStill(ctx, deps, cfg, img)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "scan failed", err)
			return
		}

		c.JSON(http.StatusOK, models.ScanResponse{Code: code, Redirect: flow.RedirectFor(code)})
	}
}

// scanStill runs a one-shot session for a single image. Each request gets
// its own orchestrator so concurrent uploads do not contend.
func scanStill(ctx context.Context, deps Dependencies, cfg *config.Config, img image.Image) (string, error) {
	orchestrator := scanner.New(deps.Decoder, nil, deps.Events, logger.Logger, scanner.Options{
		PollRate:         cfg.ScanPollRate,
		MaxFrameFailures: cfg.ScanMaxFrameFailures,
	})
	defer orchestrator.Close()

	return orchestrator.ScanUpload(ctx, capture.NewStillStream(img))
}

func readLabel(labels *ocr.LabelReader, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if labels == nil {
			err := apperrors.NewUnavailableError("Label reading is not available.", nil)
			respondError(c, err.StatusCode, "label reading unavailable", err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		upload, err := readFormUpload(c, capture.OriginPicker, cfg.MaxRequestBodySize)
		if err == nil {
			err = capture.ValidateUpload(upload)
		}
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "invalid upload", err)
			return
		}

		code, text, err := labels.ReadCode(ctx, upload.Body)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "label reading failed", err)
			return
		}

		c.JSON(http.StatusOK, models.LabelReadResponse{Code: code, Text: text})
	}
}

func startCamera(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CameraStartRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid request format", err)
				return
			}
		}

		if !deps.Scanner.Session().Status.Active() {
			deps.Flow.Reset()
			deps.Sink.Clear()
		}

		pref := capture.Preference{DeviceID: req.DeviceID, Facing: req.Facing}
		started, err := deps.Scanner.StartCamera(c.Request.Context(), deps.Camera, deps.Sink, pref)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "camera start failed", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"started": started,
			"session": deps.Scanner.Session(),
		})
	}
}

func stopCamera(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps.Scanner.Stop()
		c.JSON(http.StatusOK, gin.H{"session": deps.Scanner.Session()})
	}
}

func switchCamera(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps.Sink.Clear()
		started, err := deps.Scanner.SwitchFacing(c.Request.Context(), deps.Camera, deps.Sink)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "camera switch failed", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"started": started,
			"session": deps.Scanner.Session(),
		})
	}
}

func cameraStatus(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.CameraStatusResponse{
			Session:      deps.Scanner.Session(),
			Verification: deps.Flow.State(),
		})
	}
}

func cameraFrame(sink *capture.LatestFrameSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, ok, err := sink.JPEG(80)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "frame encoding failed",
				apperrors.NewInternalError(apperrors.MsgImageProcessing, err))
			return
		}
		if !ok {
			respondError(c, http.StatusNotFound, "no frame",
				apperrors.NewNotFoundError("No camera frame available yet.", nil))
			return
		}

		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/jpeg", data)
	}
}

func stats(metrics *observer.MetricsObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, metrics.GetMetrics())
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// readFormUpload reads the multipart "file" field
func readFormUpload(c *gin.Context, origin capture.Origin, maxBytes int64) (capture.Upload, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return capture.Upload{}, capture.InvalidFileError(origin, err)
	}
	return openUpload(header, origin, maxBytes)
}

func openUpload(header *multipart.FileHeader, origin capture.Origin, maxBytes int64) (capture.Upload, error) {
	f, err := header.Open()
	if err != nil {
		return capture.Upload{}, capture.InvalidFileError(origin, err)
	}
	defer f.Close()

	return capture.ReadUpload(f, header.Filename, header.Header.Get("Content-Type"), origin, maxBytes)
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err.Err), "request processing failed", err.Err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	if appErr, ok := apperrors.As(err); ok {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	resp := models.ErrorResponse{Error: http.StatusText(code)}
	if appErr, ok := apperrors.As(err); ok {
		resp.Message = appErr.Message
		resp.Type = string(appErr.Type)
	} else {
		resp.Message = fmt.Sprintf("%s: %v", message, err)
	}
	c.AbortWithStatusJSON(code, resp)
}
