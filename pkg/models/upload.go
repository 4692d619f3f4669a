package models

import "fmt"

// OverwritePolicy selects how an upload interacts with same-named files
type OverwritePolicy string

const (
	// PolicyNoOverwrite never replaces existing files and skips byte-identical uploads
	PolicyNoOverwrite OverwritePolicy = "no_overwrite"
	// PolicyInputFilename always (over)writes the exact requested filename
	PolicyInputFilename OverwritePolicy = "input_filename"
	// PolicyLastRename overwrites the highest numbered rename, or the original when none exist
	PolicyLastRename OverwritePolicy = "last_rename"
)

// OverwritePolicies lists the accepted policies in display order
var OverwritePolicies = []OverwritePolicy{PolicyNoOverwrite, PolicyInputFilename, PolicyLastRename}

// ParseOverwritePolicy validates a policy string. Empty selects no_overwrite.
func ParseOverwritePolicy(s string) (OverwritePolicy, error) {
	if s == "" {
		return PolicyNoOverwrite, nil
	}
	for _, p := range OverwritePolicies {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown overwrite policy %q", s)
}

// StorageType names one of the fixed folder roots
type StorageType string

const (
	StorageInput  StorageType = "input"
	StorageOutput StorageType = "output"
	StorageTemp   StorageType = "temp"
)

// ParseStorageType validates a storage type string. Empty selects input.
func ParseStorageType(s string) (StorageType, error) {
	switch StorageType(s) {
	case "":
		return StorageInput, nil
	case StorageInput, StorageOutput, StorageTemp:
		return StorageType(s), nil
	default:
		return "", fmt.Errorf("unknown storage type %q", s)
	}
}

// UploadDecision is the outcome of the dedup algorithm
type UploadDecision struct {
	FinalFilename string `json:"final_filename"`
	DidWrite      bool   `json:"did_write"`
	Overwritten   bool   `json:"overwritten"`
	// DuplicateOf is the existing file name the upload matched when DidWrite is false
	DuplicateOf string `json:"duplicate_of,omitempty"`
	Hash        string `json:"hash,omitempty"`
}

// UploadResult is returned to upload callers
type UploadResult struct {
	Name      string         `json:"name"`
	Subfolder string         `json:"subfolder"`
	Type      StorageType    `json:"type"`
	Decision  UploadDecision `json:"-"`
}
