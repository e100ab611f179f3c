package types

// TabInfo is one browser tab as reported by LIST_TABS.
type TabInfo struct {
	TabID    string `json:"tabId"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	ShortID  string `json:"shortId"`
	Attached bool   `json:"attached"`
	Session  bool   `json:"session"`
}
