package types

// Settings is the process-wide capture configuration.
type Settings struct {
	CaptureEnabled   bool `json:"captureEnabled"`
	MaxRetainedCalls int  `json:"maxRequestEntries"`
}

// SettingsPatch is a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	CaptureEnabled   *bool `json:"captureEnabled,omitempty"`
	MaxRetainedCalls *int  `json:"maxRequestEntries,omitempty"`
}

// Apply returns s with the non-nil fields of p applied.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.CaptureEnabled != nil {
		s.CaptureEnabled = *p.CaptureEnabled
	}
	if p.MaxRetainedCalls != nil {
		s.MaxRetainedCalls = *p.MaxRetainedCalls
	}
	return s
}
