package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeUnsupportedCode ErrorType = "unsupported_code"
	ErrorTypePermission      ErrorType = "permission"
	ErrorTypeDevice          ErrorType = "device"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeUnavailable     ErrorType = "unavailable"
	ErrorTypeInternal        ErrorType = "internal"
)

// User-facing messages shared by the scan and verification paths.
const (
	MsgPermissionDenied   = "Camera permission denied. Please allow camera access and try again."
	MsgNoCamera           = "No cameras found on this device. Please ensure your camera is connected and accessible."
	MsgRenderTarget       = "Scanner preview target not found. Please try again."
	MsgCameraUnavailable  = "Camera not available. Please ensure your camera is connected and not being used by another application."
	MsgCameraStartFailed  = "Failed to start camera scanner. Please try again."
	MsgSelectImage        = "Please select a valid image file."
	MsgDropImage          = "Please drop a valid image file (JPEG, PNG, etc.)."
	MsgNoQRCode           = "No QR code found in the image. Please ensure the image is clear, well-lit, and contains a valid QR code."
	MsgImageProcessing    = "Failed to process image. Please try again with a different image."
	MsgUnsupportedCode    = "QR code not supported"
	MsgNetwork            = "Network error. Please check your connection and try again."
	MsgServiceUnavailable = "Verification service unavailable."
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

func newAppError(t ErrorType, status int, message string, cause error) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return newAppError(ErrorTypeValidation, http.StatusBadRequest, message, cause)
}

// NewNetworkError creates an error for a request that never got a response
func NewNetworkError(message string, cause error) *AppError {
	return newAppError(ErrorTypeNetwork, http.StatusBadGateway, message, cause)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *AppError {
	return newAppError(ErrorTypeTimeout, http.StatusGatewayTimeout, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *AppError {
	return newAppError(ErrorTypeNotFound, http.StatusUnprocessableEntity, message, cause)
}

// NewUnsupportedCodeError is returned when a decoded payload carries no verification marker
func NewUnsupportedCodeError(message string, cause error) *AppError {
	return newAppError(ErrorTypeUnsupportedCode, http.StatusUnprocessableEntity, message, cause)
}

// NewPermissionError creates a new camera permission error
func NewPermissionError(message string, cause error) *AppError {
	return newAppError(ErrorTypePermission, http.StatusForbidden, message, cause)
}

// NewDeviceError creates a new capture device error
func NewDeviceError(message string, cause error) *AppError {
	return newAppError(ErrorTypeDevice, http.StatusServiceUnavailable, message, cause)
}

// NewConflictError creates a new conflict error
func NewConflictError(message string, cause error) *AppError {
	return newAppError(ErrorTypeConflict, http.StatusConflict, message, cause)
}

// NewUnavailableError reports an optional backend that is not configured
func NewUnavailableError(message string, cause error) *AppError {
	return newAppError(ErrorTypeUnavailable, http.StatusServiceUnavailable, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return newAppError(ErrorTypeInternal, http.StatusInternalServerError, message, cause)
}

// As extracts an *AppError from err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := As(err); ok {
		return appErr.Type == errorType
	}
	return false
}

// IsTransport reports whether err means the verification service could not be reached.
func IsTransport(err error) bool {
	return IsType(err, ErrorTypeNetwork) || IsType(err, ErrorTypeTimeout)
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// UserMessage returns the message safe to show to an end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Message
	}
	return MsgServiceUnavailable
}
