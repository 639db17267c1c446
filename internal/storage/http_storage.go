package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ImageFetcher downloads and decodes a single image, e.g. a camera snapshot
type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) (image.Image, error)
}

// StatusError is returned when the server answered with a non-200 status
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return fmt.Sprintf("client error: status code %d", e.StatusCode)
	}
	return fmt.Sprintf("server error: status code %d", e.StatusCode)
}

// IsUnauthorized reports whether err is a 401/403 answer from the image source.
func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden
	}
	return false
}

// FetcherOptions tunes the HTTP image fetcher
type FetcherOptions struct {
	Timeout            time.Duration
	MaxAttempts        int
	Backoff            time.Duration
	MaxImageBytes      int64
	InsecureSkipVerify bool
}

// DefaultFetcherOptions suits camera snapshots: one attempt, short timeout.
func DefaultFetcherOptions() FetcherOptions {
	return FetcherOptions{
		Timeout:       2 * time.Second,
		MaxAttempts:   1,
		Backoff:       time.Second,
		MaxImageBytes: 20 * 1024 * 1024,
	}
}

// HTTPImageFetcher implements ImageFetcher over plain HTTP(S)
type HTTPImageFetcher struct {
	client *http.Client
	opts   FetcherOptions
}

// NewHTTPImageFetcher creates an HTTP image fetcher
func NewHTTPImageFetcher(opts FetcherOptions) *HTTPImageFetcher {
	defaults := DefaultFetcherOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaults.Backoff
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = defaults.MaxImageBytes
	}

	transport := &http.Transport{
		// Snapshot polling hits the same few hosts repeatedly
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,

		// Network cameras commonly ship self-signed certificates
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
	}

	return &HTTPImageFetcher{
		opts: opts,
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
}

func (h *HTTPImageFetcher) FetchImage(ctx context.Context, imageURL string) (image.Image, error) {
	var lastErr error

	for attempt := 0; attempt < h.opts.MaxAttempts; attempt++ {
		img, retryable, err := h.fetchOnce(ctx, imageURL)
		if err == nil {
			return img, nil
		}
		lastErr = err
		if !retryable || attempt == h.opts.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * h.opts.Backoff):
		}
	}

	if h.opts.MaxAttempts > 1 {
		return nil, fmt.Errorf("failed to fetch image after %d attempts: %w", h.opts.MaxAttempts, lastErr)
	}
	return nil, lastErr
}

// fetchOnce performs one request. 4xx answers and decode failures are not retryable.
func (h *HTTPImageFetcher) fetchOnce(ctx context.Context, imageURL string) (image.Image, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")
	req.Header.Set("User-Agent", "Go-Product-Verifier/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode >= 500, &StatusError{StatusCode: resp.StatusCode}
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, h.opts.MaxImageBytes))
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, false, nil
}

// CloseIdleConnections releases pooled connections held for a camera
func (h *HTTPImageFetcher) CloseIdleConnections() {
	h.client.CloseIdleConnections()
}
