// Package models defines the data structures shared across kapimage
package models

import (
	"fmt"
	"time"
)

// ChangeEvent represents a file system change on a watched file
type ChangeEvent struct {
	ID        string     `json:"id"`
	Type      ChangeType `json:"type"`
	Path      string     `json:"path"`
	Timestamp time.Time  `json:"timestamp"`
	Size      int64      `json:"size,omitempty"`
	Hash      string     `json:"hash,omitempty"`
}

// NewChangeEvent creates a new change event
func NewChangeEvent(eventType ChangeType, path string) *ChangeEvent {
	return &ChangeEvent{
		ID:        GenerateEventID(),
		Type:      eventType,
		Path:      path,
		Timestamp: time.Now(),
	}
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("evt_%d", time.Now().UnixNano())
}

// ChangeType defines the type of file system change
type ChangeType string

const (
	// ChangeTypeCreate indicates a file was created (or replaced by an atomic save)
	ChangeTypeCreate ChangeType = "create"

	// ChangeTypeModify indicates a file was modified
	ChangeTypeModify ChangeType = "modify"

	// ChangeTypeDelete indicates a file was deleted
	ChangeTypeDelete ChangeType = "delete"

	// ChangeTypeRename indicates a file was renamed away
	ChangeTypeRename ChangeType = "rename"

	// ChangeTypeChmod indicates file permissions changed
	ChangeTypeChmod ChangeType = "chmod"
)

// String returns the string representation of the change type
func (ct ChangeType) String() string {
	return string(ct)
}

// IsCreateOrModify checks if the event is a create or modify operation
func (e *ChangeEvent) IsCreateOrModify() bool {
	return e.Type == ChangeTypeCreate || e.Type == ChangeTypeModify
}

// PreviewEvent is pushed to browser clients when a watched file's preview was regenerated
type PreviewEvent struct {
	Path            string `json:"path"`
	PreviewFilename string `json:"preview_filename"`
	PreviewType     string `json:"preview_type"`
}

// EventTypeUpdatePreview is the push message type carrying a PreviewEvent
const EventTypeUpdatePreview = "kap-update-preview"
