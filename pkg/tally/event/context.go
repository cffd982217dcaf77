package event

// Context is the metadata shared by every event in a batch.
// It is rebuilt for each send so it always reflects the current identity
// and session.
type Context struct {
	Platform           string `json:"platform,omitempty"`
	OSVersion          string `json:"os_version,omitempty"`
	AppVersion         string `json:"app_version,omitempty"`
	AppBuildNumber     string `json:"app_build_number,omitempty"`
	DeviceManufacturer string `json:"device_manufacturer,omitempty"`
	DeviceModel        string `json:"device_model,omitempty"`
	Locale             string `json:"locale,omitempty"`
	Timezone           string `json:"timezone,omitempty"`
	Environment        string `json:"environment,omitempty"`
	SDK                string `json:"sdk,omitempty"`
	SDKVersion         string `json:"sdk_version,omitempty"`
	UserID             string `json:"user_id,omitempty"`
	SessionID          string `json:"session_id,omitempty"`
}

// Batch is the collector request body.
type Batch struct {
	Events  []Event `json:"events"`
	Context Context `json:"context"`
}
