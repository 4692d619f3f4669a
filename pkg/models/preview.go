package models

// PreviewResult is the outcome of generating a preview image
type PreviewResult struct {
	Success         bool   `json:"success"`
	PreviewFilename string `json:"preview_filename,omitempty"`
	PreviewFilepath string `json:"preview_filepath,omitempty"`
	Converted       bool   `json:"converted,omitempty"`
}
