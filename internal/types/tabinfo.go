package types

// TabInfo holds what is known about a browser tab.
type TabInfo struct {
	ID       TabID  `json:"id"`
	URL      string `json:"url"`
	Hostname string `json:"hostname"`
}
