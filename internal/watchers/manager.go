// Package watchers keeps the set of files whose previews are regenerated on change.
package watchers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kapnodes/kapimage/internal/core/interfaces"
	"github.com/kapnodes/kapimage/internal/digest"
	"github.com/kapnodes/kapimage/internal/folders"
	"github.com/kapnodes/kapimage/internal/watchers/local"
	kaperrors "github.com/kapnodes/kapimage/pkg/errors"
	"github.com/kapnodes/kapimage/pkg/logger"
	"github.com/kapnodes/kapimage/pkg/models"
	"go.uber.org/zap"
)

// Handler is invoked for a modified entry that has no OnModified of its own
type Handler func(entry models.WatchEntry, event models.ChangeEvent)

// ManagerConfig contains configuration for the watch-list service
type ManagerConfig struct {
	DebouncePeriod time.Duration    // Debounce period for file events
	HashAlgorithm  digest.Algorithm // Digest used to drop writes that did not change content
	Handler        Handler          // Default handler for modification events

	// NewBackend overrides backend construction. Nil uses the fsnotify watcher.
	NewBackend func() (interfaces.FileWatcher, error)
}

type backendState int

const (
	backendNotStarted backendState = iota
	backendRunning
)

type registration struct {
	entry  models.WatchEntry
	handle interfaces.Handle
}

// WatchListService maps absolute file paths to watch registrations. All state is
// guarded by mu; Replace swaps the whole list atomically.
type WatchListService struct {
	mu        sync.Mutex
	entries   map[string]*registration
	backend   interfaces.FileWatcher
	state     backendState
	available bool
	handler   Handler
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// NewWatchListService creates the service. A backend that cannot be created leaves the
// service usable but unavailable; Replace then reports every entry as skipped.
func NewWatchListService(config ManagerConfig) *WatchListService {
	if config.DebouncePeriod == 0 {
		config.DebouncePeriod = 100 * time.Millisecond
	}
	if config.HashAlgorithm == "" {
		config.HashAlgorithm = digest.XXHash
	}
	newBackend := config.NewBackend
	if newBackend == nil {
		newBackend = func() (interfaces.FileWatcher, error) {
			return local.NewFileWatcher(config.DebouncePeriod, config.HashAlgorithm)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &WatchListService{
		entries: make(map[string]*registration),
		handler: config.Handler,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Get(),
	}

	backend, err := newBackend()
	if err != nil {
		s.logger.Warn("File watching unavailable, automatic previews disabled", zap.Error(err))
		return s
	}
	s.backend = backend
	s.available = true
	return s
}

// Available reports whether file watching works on this platform
func (s *WatchListService) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// List returns the watched paths in sorted order
func (s *WatchListService) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.entries))
	for path := range s.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of watched paths
func (s *WatchListService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Replace cancels every previous registration and registers entries instead.
// Entries that are not existing regular files are skipped and reported.
func (s *WatchListService) Replace(entries []models.WatchEntry) models.ReplaceReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := models.ReplaceReport{Watched: []string{}, Available: s.available}

	if !s.available {
		for _, entry := range entries {
			report.Skipped = append(report.Skipped, models.SkippedEntry{
				Path:   entry.Path,
				Reason: "file watching unavailable",
			})
		}
		return report
	}

	for path, reg := range s.entries {
		if err := reg.handle.Close(); err != nil {
			s.logger.Warn("Failed to cancel watch", zap.String("path", path), zap.Error(err))
		}
	}
	s.entries = make(map[string]*registration)

	for _, entry := range entries {
		path, err := s.register(entry)
		if err != nil {
			s.logger.Warn("Skipping watch entry",
				zap.String("path", entry.Path),
				zap.Error(err),
			)
			report.Skipped = append(report.Skipped, models.SkippedEntry{Path: entry.Path, Reason: err.Error()})
			continue
		}
		report.Watched = append(report.Watched, path)
	}

	s.logger.Info("Updated watchlist",
		zap.Int("watching", len(s.entries)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report
}

// register must be called with mu held
func (s *WatchListService) register(entry models.WatchEntry) (string, error) {
	if entry.Path == "" {
		return "", kaperrors.NewClientInputError("empty path", nil)
	}
	path, err := filepath.Abs(folders.ExpandUser(entry.Path))
	if err != nil {
		return "", kaperrors.NewClientInputError("invalid path", err)
	}
	// key by the link target; the backend watches the directory the writes happen in
	path, err = filepath.EvalSymlinks(path)
	if err != nil {
		return "", kaperrors.NewNotFoundError("file not found", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", kaperrors.NewNotFoundError("file not found", err)
	}
	if !info.Mode().IsRegular() {
		return "", kaperrors.NewNotFoundError("not a regular file", nil)
	}

	if s.state == backendNotStarted {
		if err := s.backend.Start(s.ctx); err != nil {
			return "", kaperrors.NewCapabilityUnavailable("failed to start file watcher", err)
		}
		s.wg.Add(1)
		go s.dispatch()
		s.state = backendRunning
	}

	// A repeated path keeps only its last registration
	if previous, ok := s.entries[path]; ok {
		previous.handle.Close()
	}
	handle, err := s.backend.AddPath(path)
	if err != nil {
		return "", kaperrors.NewFileSystemError("failed to watch file", err)
	}

	if entry.Source == "" {
		entry.Source = entry.Path
	}
	entry.Path = path
	s.entries[path] = &registration{entry: entry, handle: handle}
	return path, nil
}

// Shutdown stops dispatching and closes the backend. The service is unusable afterwards.
func (s *WatchListService) Shutdown() error {
	s.mu.Lock()
	s.cancel()
	s.entries = make(map[string]*registration)
	s.available = false
	backend := s.backend
	s.mu.Unlock()

	s.wg.Wait()

	if backend == nil {
		return nil
	}
	if err := backend.Stop(); err != nil {
		return fmt.Errorf("failed to stop file watcher: %w", err)
	}
	s.logger.Info("Watchlist service stopped")
	return nil
}

// dispatch routes backend events to the handler of the entry they belong to
func (s *WatchListService) dispatch() {
	defer s.wg.Done()

	events := s.backend.Watch()
	errs := s.backend.Errors()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event := <-events:
			s.mu.Lock()
			reg, ok := s.entries[event.Path]
			var entry models.WatchEntry
			if ok {
				entry = reg.entry
			}
			s.mu.Unlock()

			if !ok || !event.IsCreateOrModify() {
				continue
			}
			s.invoke(entry, event)

		case err := <-errs:
			s.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (s *WatchListService) invoke(entry models.WatchEntry, event models.ChangeEvent) {
	handler := s.handler
	if entry.OnModified != nil {
		handler = entry.OnModified
	}
	if handler == nil {
		s.logger.Debug("No handler for watched file", zap.String("path", entry.Path))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Watch handler panicked",
				zap.String("path", entry.Path),
				zap.Any("panic", r),
			)
		}
	}()

	s.logger.Info("Watched file modified",
		zap.String("path", entry.Path),
		zap.String("type", event.Type.String()),
	)
	handler(entry, event)
}
