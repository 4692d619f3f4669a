package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kapnodes/kapimage/internal/core/interfaces"
	"github.com/kapnodes/kapimage/internal/digest"
	"github.com/kapnodes/kapimage/pkg/logger"
	"github.com/kapnodes/kapimage/pkg/models"
	"go.uber.org/zap"
)

// FileWatcher implements interfaces.FileWatcher using fsnotify. Each file is watched
// through its parent directory so saves that replace the file by rename are still seen.
type FileWatcher struct {
	watcher        *fsnotify.Watcher
	files          map[string]uint64 // watched file -> registration id
	dirs           map[string]int    // watched directory -> number of files in it
	pathsMu        sync.Mutex
	nextID         uint64
	eventsChan     chan models.ChangeEvent
	errorsChan     chan error
	debouncePeriod time.Duration
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	hashAlgorithm  digest.Algorithm
	fileHashes     map[string]string // last seen content digest per file
	hashMu         sync.Mutex
	logger         *zap.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	isRunning      bool
	stopped        bool
	runningMu      sync.RWMutex
}

// NewFileWatcher creates the fsnotify watcher. An error here means the platform cannot
// provide file notifications at all.
func NewFileWatcher(debouncePeriod time.Duration, hashAlgorithm digest.Algorithm) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if debouncePeriod <= 0 {
		debouncePeriod = 100 * time.Millisecond
	}
	if hashAlgorithm == "" {
		hashAlgorithm = digest.XXHash
	}
	if _, err := digest.NewHash(hashAlgorithm); err != nil {
		w.Close()
		return nil, err
	}

	return &FileWatcher{
		watcher:        w,
		files:          make(map[string]uint64),
		dirs:           make(map[string]int),
		eventsChan:     make(chan models.ChangeEvent, 100),
		errorsChan:     make(chan error, 10),
		debouncePeriod: debouncePeriod,
		debounceTimers: make(map[string]*time.Timer),
		hashAlgorithm:  hashAlgorithm,
		fileHashes:     make(map[string]string),
		logger:         logger.Get(),
	}, nil
}

// Start begins delivering events until ctx is cancelled or Stop is called
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.runningMu.Lock()
	defer fw.runningMu.Unlock()

	if fw.isRunning {
		return fmt.Errorf("watcher is already running")
	}
	if fw.stopped {
		return fmt.Errorf("watcher has been stopped")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	fw.ctx, fw.cancel = context.WithCancel(ctx)

	fw.wg.Add(1)
	go fw.monitor()

	fw.isRunning = true
	fw.logger.Info("File watcher started",
		zap.Duration("debounce_period", fw.debouncePeriod),
		zap.String("hash_algorithm", string(fw.hashAlgorithm)),
	)
	return nil
}

// Stop stops the file watcher. Event channels are left open; consumers stop on their
// own context.
func (fw *FileWatcher) Stop() error {
	fw.runningMu.Lock()
	defer fw.runningMu.Unlock()

	if fw.stopped {
		return nil
	}
	fw.stopped = true

	if fw.cancel != nil {
		fw.cancel()
	}

	fw.debounceMu.Lock()
	for _, timer := range fw.debounceTimers {
		timer.Stop()
	}
	fw.debounceTimers = make(map[string]*time.Timer)
	fw.debounceMu.Unlock()

	err := fw.watcher.Close()
	fw.wg.Wait()

	fw.isRunning = false
	fw.logger.Info("File watcher stopped")
	return err
}

// Watch returns the channel for receiving change events
func (fw *FileWatcher) Watch() <-chan models.ChangeEvent {
	return fw.eventsChan
}

// Errors returns the channel for receiving errors
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errorsChan
}

// IsWatching checks if currently watching
func (fw *FileWatcher) IsWatching() bool {
	fw.runningMu.RLock()
	defer fw.runningMu.RUnlock()
	return fw.isRunning
}

type fileHandle struct {
	fw   *FileWatcher
	path string
	id   uint64
	once sync.Once
}

func (h *fileHandle) Close() error {
	var err error
	h.once.Do(func() {
		err = h.fw.removeFile(h.path, h.id)
	})
	return err
}

// AddPath watches a single regular file. Adding a path twice replaces the earlier
// registration; closing the older handle is then a no-op.
func (fw *FileWatcher) AddPath(path string) (interfaces.Handle, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	fw.pathsMu.Lock()
	defer fw.pathsMu.Unlock()

	dir := filepath.Dir(absPath)
	if _, exists := fw.files[absPath]; !exists {
		if fw.dirs[dir] == 0 {
			if err := fw.watcher.Add(dir); err != nil {
				return nil, fmt.Errorf("failed to add path to watcher: %w", err)
			}
		}
		fw.dirs[dir]++
	}
	fw.nextID++
	id := fw.nextID
	fw.files[absPath] = id

	if hash, err := digest.File(fw.hashAlgorithm, absPath); err == nil {
		fw.hashMu.Lock()
		fw.fileHashes[absPath] = hash
		fw.hashMu.Unlock()
	}

	fw.logger.Debug("Added file to watcher", zap.String("path", absPath))
	return &fileHandle{fw: fw, path: absPath, id: id}, nil
}

func (fw *FileWatcher) removeFile(path string, id uint64) error {
	fw.pathsMu.Lock()
	defer fw.pathsMu.Unlock()

	if current, ok := fw.files[path]; !ok || current != id {
		return nil
	}
	delete(fw.files, path)

	fw.hashMu.Lock()
	delete(fw.fileHashes, path)
	fw.hashMu.Unlock()

	dir := filepath.Dir(path)
	fw.dirs[dir]--
	if fw.dirs[dir] > 0 {
		return nil
	}
	delete(fw.dirs, dir)
	if err := fw.watcher.Remove(dir); err != nil {
		fw.logger.Warn("Failed to remove path from watcher",
			zap.String("path", dir),
			zap.Error(err),
		)
		return err
	}
	fw.logger.Debug("Removed file from watcher", zap.String("path", path))
	return nil
}

// GetWatchedPaths returns a sorted list of all watched files
func (fw *FileWatcher) GetWatchedPaths() []string {
	fw.pathsMu.Lock()
	defer fw.pathsMu.Unlock()

	paths := make([]string, 0, len(fw.files))
	for path := range fw.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// monitor is the main monitoring goroutine
func (fw *FileWatcher) monitor() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("File watcher error", zap.Error(err))
			select {
			case fw.errorsChan <- err:
			default:
			}
		}
	}
}

// handleEvent filters directory events down to watched files and debounces them
func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	name := filepath.Clean(event.Name)

	fw.pathsMu.Lock()
	_, watched := fw.files[name]
	fw.pathsMu.Unlock()
	if !watched {
		return
	}

	changeType := mapEventType(event.Op)
	if changeType != models.ChangeTypeCreate && changeType != models.ChangeTypeModify {
		return
	}

	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	// each event restarts the window; the last type seen is reported
	if timer, exists := fw.debounceTimers[name]; exists {
		timer.Stop()
	}
	fw.debounceTimers[name] = time.AfterFunc(fw.debouncePeriod, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, name)
		fw.debounceMu.Unlock()

		fw.processEvent(name, changeType)
	})
}

// processEvent emits a debounced event unless the file's content is unchanged
func (fw *FileWatcher) processEvent(path string, changeType models.ChangeType) {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fw.logger.Warn("Failed to stat file", zap.String("path", path), zap.Error(err))
		}
		return
	}

	event := models.NewChangeEvent(changeType, path)
	event.Size = info.Size()

	if hash, err := digest.File(fw.hashAlgorithm, path); err == nil {
		event.Hash = hash

		fw.hashMu.Lock()
		oldHash, exists := fw.fileHashes[path]
		fw.fileHashes[path] = hash
		fw.hashMu.Unlock()

		if changeType == models.ChangeTypeModify && exists && oldHash == hash {
			fw.logger.Debug("Skipping event with unchanged content", zap.String("path", path))
			return
		}
	}

	select {
	case fw.eventsChan <- *event:
		fw.logger.Debug("File change detected",
			zap.String("path", path),
			zap.String("type", string(changeType)),
			zap.Int64("size", event.Size),
		)
	case <-fw.ctx.Done():
	}
}

// mapEventType maps fsnotify operations to our change types
func mapEventType(op fsnotify.Op) models.ChangeType {
	switch {
	case op.Has(fsnotify.Create):
		return models.ChangeTypeCreate
	case op.Has(fsnotify.Write):
		return models.ChangeTypeModify
	case op.Has(fsnotify.Remove):
		return models.ChangeTypeDelete
	case op.Has(fsnotify.Rename):
		return models.ChangeTypeRename
	case op.Has(fsnotify.Chmod):
		return models.ChangeTypeChmod
	default:
		return ""
	}
}
