package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go-product-verifier/pkg/validation"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64

	// Verification service
	VerifyBaseURL string
	VerifyTimeout time.Duration

	// Scanning
	ScanPollRate            int
	ScanMaxFrameFailures    int
	DecoderFastPath         bool
	DecoderFastMaxDimension int
	FrameMinSharpness       float64

	// Snapshot cameras
	CameraDevices      []CameraDevice
	CameraFetchTimeout time.Duration

	// Optional backends
	AzureStorageAccount string
	AzureStorageKey     string
	OCRLanguage         string

	LogLevel string
}

// CameraDevice is one snapshot camera from CAMERA_DEVICES.
type CameraDevice struct {
	ID          string
	Label       string
	Facing      string
	SnapshotURL string
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// BlobStorageEnabled reports whether Azure credentials were supplied.
func (c *Config) BlobStorageEnabled() bool {
	return c.AzureStorageAccount != "" && c.AzureStorageKey != ""
}

func LoadFromEnv() (*Config, error) {
	// Set defaults
	cfg := &Config{
		Host:                    getEnvOrDefault("HOST", "0.0.0.0"),
		Port:                    getEnvOrDefault("PORT", "8080"),
		RequestTimeout:          parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		MaxRequestBodySize:      parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 10*1024*1024), // 10MB
		VerifyBaseURL:           strings.TrimRight(strings.TrimSpace(os.Getenv("VERIFY_API_BASE_URL")), "/"),
		VerifyTimeout:           parseDurationOrDefault("VERIFY_TIMEOUT", 10*time.Second),
		ScanPollRate:            int(parseIntOrDefault("SCAN_POLL_RATE", 10)),
		ScanMaxFrameFailures:    int(parseIntOrDefault("SCAN_MAX_FRAME_FAILURES", 30)),
		DecoderFastPath:         parseBoolOrDefault("DECODER_FAST_PATH", true),
		DecoderFastMaxDimension: int(parseIntOrDefault("DECODER_FAST_MAX_DIMENSION", 640)),
		FrameMinSharpness:       parseFloatOrDefault("FRAME_MIN_SHARPNESS", 15),
		CameraFetchTimeout:      parseDurationOrDefault("CAMERA_FETCH_TIMEOUT", 2*time.Second),
		AzureStorageAccount:     strings.TrimSpace(os.Getenv("AZURE_STORAGE_ACCOUNT")),
		AzureStorageKey:         strings.TrimSpace(os.Getenv("AZURE_STORAGE_KEY")),
		OCRLanguage:             getEnvOrDefault("OCR_LANGUAGE", "eng"),
		LogLevel:                getEnvOrDefault("LOG_LEVEL", "info"),
	}

	devices, err := ParseCameraDevices(os.Getenv("CAMERA_DEVICES"))
	if err != nil {
		return nil, err
	}
	cfg.CameraDevices = devices

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail at request time.
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.VerifyBaseURL == "" {
		return fmt.Errorf("VERIFY_API_BASE_URL is required")
	}
	if err := validation.NewURLValidator().ValidateURL(c.VerifyBaseURL); err != nil {
		return fmt.Errorf("invalid VERIFY_API_BASE_URL %q: %w", c.VerifyBaseURL, err)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.VerifyTimeout <= 0 || c.CameraFetchTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, verify=%s, camera=%s)",
			c.RequestTimeout, c.VerifyTimeout, c.CameraFetchTimeout)
	}
	if c.ScanPollRate < 1 || c.ScanPollRate > 60 {
		return fmt.Errorf("SCAN_POLL_RATE must be between 1 and 60 (got %d)", c.ScanPollRate)
	}
	if c.ScanMaxFrameFailures < 1 {
		return fmt.Errorf("SCAN_MAX_FRAME_FAILURES must be > 0 (got %d)", c.ScanMaxFrameFailures)
	}
	if c.DecoderFastMaxDimension < 64 {
		return fmt.Errorf("DECODER_FAST_MAX_DIMENSION must be >= 64 (got %d)", c.DecoderFastMaxDimension)
	}
	if (c.AzureStorageAccount == "") != (c.AzureStorageKey == "") {
		return fmt.Errorf("AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY must be set together")
	}
	return nil
}

// ParseCameraDevices parses "label|url" or "label|facing|url" entries separated by ';'.
func ParseCameraDevices(raw string) ([]CameraDevice, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	validator := validation.NewURLValidator()
	var devices []CameraDevice
	for i, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		dev := CameraDevice{ID: fmt.Sprintf("cam-%d", i)}
		switch len(parts) {
		case 2:
			dev.Label, dev.SnapshotURL = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		case 3:
			dev.Label = strings.TrimSpace(parts[0])
			dev.Facing = strings.ToLower(strings.TrimSpace(parts[1]))
			dev.SnapshotURL = strings.TrimSpace(parts[2])
		default:
			return nil, fmt.Errorf("invalid CAMERA_DEVICES entry %q", entry)
		}
		if err := validator.ValidateURL(dev.SnapshotURL); err != nil {
			return nil, fmt.Errorf("invalid snapshot URL for camera %q: %w", dev.Label, err)
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
