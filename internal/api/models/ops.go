package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus reports subsystems, push providers and active switches.
type SystemStatus struct {
	Status                 HealthStatus      `json:"status"`
	Time                   Timestamp         `json:"time"`
	Subsystems             []SubsystemStatus `json:"subsystems"`
	Providers              []ProviderStatus  `json:"providers"`
	ActiveDegradationFlags []string          `json:"activeDegradationFlags,omitempty"`
}

// SubsystemStatus represents the status of a subsystem.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus represents the status of an external provider.
type ProviderStatus struct {
	Provider     string       `json:"provider"`
	Status       HealthStatus `json:"status"`
	Support      string       `json:"support,omitempty"`
	CircuitState string       `json:"circuitState,omitempty"`
	Failures     uint32       `json:"consecutiveFailures"`
	Message      *string      `json:"message,omitempty"`
}

// FlagsResponse lists the effective global feature flags and any
// per-store overrides.
type FlagsResponse struct {
	Flags     map[string]interface{} `json:"flags"`
	Overrides []FlagOverride         `json:"overrides,omitempty"`
}

// FlagOverride is a flag value that applies to one store only.
type FlagOverride struct {
	Key       string      `json:"key"`
	StoreID   int64       `json:"storeId"`
	Value     interface{} `json:"value"`
	UpdatedAt Timestamp   `json:"updatedAt"`
}
