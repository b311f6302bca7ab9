package models

// DeviceFilter narrows a device catalog query.
type DeviceFilter struct {
	Brand string `json:"brand,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// CoverageResult is the carrier's coverage answer for a ZIP code.
type CoverageResult struct {
	ZipCode     string   `json:"zip_code"`
	Covered     bool     `json:"covered"`
	Networks    []string `json:"networks,omitempty"`
	SignalLevel string   `json:"signal_level,omitempty"`
}

// DeviceCompatibility is the carrier's answer for a bring-your-own-device check.
type DeviceCompatibility struct {
	IMEI        string `json:"imei"`
	Compatible  bool   `json:"compatible"`
	Make        string `json:"make,omitempty"`
	Model       string `json:"model,omitempty"`
	ESIMCapable bool   `json:"esim_capable"`
	Reason      string `json:"reason,omitempty"`
}

// SIMSwapRequest asks the carrier to move a customer's line to a new SIM.
type SIMSwapRequest struct {
	CustomerID string  `json:"customer_id"`
	ICCID      string  `json:"iccid"`
	SimType    SimType `json:"sim_type"`
}

// SIMSwapResult is the carrier's acknowledgement of a SIM swap.
type SIMSwapResult struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	ActivationURL string `json:"activation_url,omitempty"`
}
