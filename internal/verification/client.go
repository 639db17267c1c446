// Package verification talks to the product verification service.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "go-product-verifier/internal/errors"
	"go-product-verifier/pkg/models"
)

const (
	defaultValidMessage   = "Product verified successfully!"
	defaultInvalidMessage = "Product verification failed."

	maxResponseBytes = 1 << 20
)

// Verifier resolves a code to a verification result
type Verifier interface {
	Verify(ctx context.Context, code string) (models.VerificationResult, error)
}

// Client calls GET {base}/product/verify/{code}
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a client with the given request timeout
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger,
	}
}

// verifyResponse is the service's JSON body; every field is optional
type verifyResponse struct {
	Message string         `json:"message"`
	Data    *verifyProduct `json:"data"`
}

type verifyProduct struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Batch      string `json:"batch"`
	MfgDate    string `json:"mfgDate"`
	ExpiryDate string `json:"expiryDate"`
}

// Verify returns a result for any answer from the service. A non-2xx answer
// is an invalid product, not an error. Errors mean no usable answer arrived.
func (c *Client) Verify(ctx context.Context, code string) (models.VerificationResult, error) {
	endpoint := fmt.Sprintf("%s/product/verify/%s", c.baseURL, url.PathEscape(code))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.VerificationResult{}, apperrors.NewInternalError(apperrors.MsgServiceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Go-Product-Verifier/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"code":     code,
			"duration": time.Since(start),
		}).WithError(err).Warn("Verification request got no response")
		return models.VerificationResult{}, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.VerificationResult{}, transportError(err)
	}

	var parsed verifyResponse
	if len(body) > 0 {
		// A body that is not JSON still yields a result from the status code
		if err := json.Unmarshal(body, &parsed); err != nil {
			c.logger.WithField("status", resp.StatusCode).WithError(err).Debug("Verification response is not JSON")
		}
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	result := models.VerificationResult{IsValid: ok, Message: strings.TrimSpace(parsed.Message)}
	if result.Message == "" {
		if ok {
			result.Message = defaultValidMessage
		} else {
			result.Message = defaultInvalidMessage
		}
	}
	if ok && parsed.Data != nil {
		result.Product = &models.ProductMetadata{
			Code:       parsed.Data.Code,
			Name:       parsed.Data.Name,
			Batch:      parsed.Data.Batch,
			MfgDate:    parsed.Data.MfgDate,
			ExpiryDate: parsed.Data.ExpiryDate,
		}
	}

	c.logger.WithFields(logrus.Fields{
		"code":     code,
		"status":   resp.StatusCode,
		"valid":    result.IsValid,
		"duration": time.Since(start),
	}).Debug("Verification response received")

	return result, nil
}

// transportError classifies a failure to get a response
func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return apperrors.NewNetworkError(apperrors.MsgNetwork, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.NewTimeoutError(apperrors.MsgNetwork, err)
	}
	return apperrors.NewNetworkError(apperrors.MsgNetwork, err)
}
