package models

// WatchEntry describes one file submitted to the watch list
type WatchEntry struct {
	// Path is resolved to a canonical absolute path by the watch service
	Path string `json:"path"`
	// Source is the exact string the client submitted; notifications echo it back
	Source string `json:"source,omitempty"`
	// OnModified overrides the service-level handler when set
	OnModified func(WatchEntry, ChangeEvent) `json:"-"`
	Extra      PreviewInfo                   `json:"extra"`
}

// PreviewInfo is the preview metadata carried by a watch entry
type PreviewInfo struct {
	PreviewName string `json:"preview_name"`
	PreviewPath string `json:"preview_path"`
}

// SkippedEntry reports a watch entry that was not registered
type SkippedEntry struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ReplaceReport summarizes a watch-list replacement
type ReplaceReport struct {
	Watched []string       `json:"watched"`
	Skipped []SkippedEntry `json:"skipped,omitempty"`
	// Available is false when the watch capability is missing and the replace was a no-op
	Available bool `json:"available"`
}
