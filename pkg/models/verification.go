package models

// ProductMetadata describes the product unit behind a verification code
type ProductMetadata struct {
	Code       string `json:"code,omitempty"`
	Name       string `json:"name,omitempty"`
	Batch      string `json:"batch,omitempty"`
	MfgDate    string `json:"mfg_date,omitempty"`
	ExpiryDate string `json:"expiry_date,omitempty"`
}

// VerificationResult is the normalized outcome of a verification request
type VerificationResult struct {
	IsValid bool             `json:"is_valid"`
	Message string           `json:"message"`
	Product *ProductMetadata `json:"product,omitempty"`
}

// ManualEntryState holds the free text typed by the user
type ManualEntryState struct {
	Code string `json:"code"`
}

// VerificationState is what the verification view renders
type VerificationState struct {
	Code    string              `json:"code,omitempty"`
	Result  *VerificationResult `json:"result,omitempty"`
	Loading bool                `json:"loading"`
	Error   string              `json:"error,omitempty"`
}
