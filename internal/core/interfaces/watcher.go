package interfaces

import (
	"context"

	"github.com/kapnodes/kapimage/pkg/models"
)

// FileWatcher defines the contract for monitoring individual files for changes
type FileWatcher interface {
	// Start begins delivering events; it is called at most once
	Start(ctx context.Context) error

	// Stop stops the file watcher and releases its resources
	Stop() error

	// Watch returns a channel that receives file change events
	Watch() <-chan models.ChangeEvent

	// Errors returns a channel for error notifications
	Errors() <-chan error

	// AddPath registers a regular file; closing the handle cancels the registration
	AddPath(path string) (Handle, error)

	// GetWatchedPaths returns list of currently watched files
	GetWatchedPaths() []string

	// IsWatching checks if currently watching
	IsWatching() bool
}

// Handle cancels one watch registration. Close is idempotent.
type Handle interface {
	Close() error
}
