package models

import "time"

// ScanStatus is the state of a scanning session
type ScanStatus string

const (
	ScanStatusIdle         ScanStatus = "idle"
	ScanStatusInitializing ScanStatus = "initializing"
	ScanStatusScanning     ScanStatus = "scanning"
	ScanStatusResolved     ScanStatus = "resolved"
	ScanStatusStopped      ScanStatus = "stopped"
	ScanStatusError        ScanStatus = "error"
)

// Active reports whether a session in this state owns a capture source.
func (s ScanStatus) Active() bool {
	return s == ScanStatusInitializing || s == ScanStatusScanning
}

// ScanSource identifies where pixel data comes from
type ScanSource string

const (
	ScanSourceCamera ScanSource = "camera"
	ScanSourceUpload ScanSource = "upload"
)

// DecodedCode is the raw text produced by a successful decode
type DecodedCode struct {
	RawText string `json:"raw_text"`
}

// ScanSession is a snapshot of the orchestrator's session
type ScanSession struct {
	ID               string     `json:"id,omitempty"`
	Status           ScanStatus `json:"status"`
	Source           ScanSource `json:"source,omitempty"`
	DeviceID         string     `json:"device_id,omitempty"`
	DeviceLabel      string     `json:"device_label,omitempty"`
	CameraPermission *bool      `json:"camera_permission,omitempty"`
	Code             string     `json:"code,omitempty"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `json:"started_at,omitempty"`
	FramesProcessed  int        `json:"frames_processed"`
}
