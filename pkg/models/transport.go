package models

// ManualVerifyRequest is the body of a manual entry submission
type ManualVerifyRequest struct {
	Code string `json:"code" form:"code"`
}

// CameraStartRequest selects the device for a camera session
type CameraStartRequest struct {
	DeviceID string `json:"device_id,omitempty"`
	Facing   string `json:"facing,omitempty"`
}

// BlobScanRequest names a label image stored in blob storage
type BlobScanRequest struct {
	Container string `json:"container" binding:"required"`
	Blob      string `json:"blob" binding:"required"`
}

// ScanResponse is returned after a successful scan or manual submission
type ScanResponse struct {
	Code     string `json:"code"`
	Redirect string `json:"redirect"`
}

// LabelReadResponse carries a printed code read from a label photo
type LabelReadResponse struct {
	Code string `json:"code"`
	Text string `json:"text,omitempty"`
}

// CameraStatusResponse combines the scan session with the verification state
type CameraStatusResponse struct {
	Session      ScanSession       `json:"session"`
	Verification VerificationState `json:"verification"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
}
