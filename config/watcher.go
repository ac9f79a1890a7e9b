package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileWatcher watches configuration files for changes by polling their
// modification times. Events are debounced so a burst of writes from an
// editor or provisioning tool produces a single callback.
type FileWatcher struct {
	mu sync.RWMutex

	paths         []string
	debounceDelay time.Duration

	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent

	callbacks []func(event FileEvent)

	logger *zap.Logger

	// Modification times from the previous poll, keyed by path.
	lastModTimes map[string]time.Time
}

// FileEvent describes a detected change on a watched file.
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
	Error     error     `json:"error,omitempty"`
}

// FileOp is the kind of change detected on a watched file.
type FileOp int

const (
	// FileOpCreate indicates the file appeared.
	FileOpCreate FileOp = iota
	// FileOpWrite indicates the file was modified.
	FileOpWrite
	// FileOpRemove indicates the file was deleted.
	FileOpRemove
)

// String returns the string representation of FileOp.
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// WatcherOption configures the FileWatcher.
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets how long the watcher waits after the last
// detected change before invoking callbacks.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// NewFileWatcher creates a watcher for the given paths. A path that does
// not exist yet is accepted; its creation will be reported as an event.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		paths:         paths,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 100),
		callbacks:     make([]func(FileEvent), 0),
		lastModTimes:  make(map[string]time.Time),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				w.logger.Warn("config file does not exist, will watch for creation",
					zap.String("path", path))
			} else {
				return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
			}
		}
	}

	return w, nil
}

// OnChange registers a callback for file change events.
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for file changes. It returns an error if the
// watcher is already running.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	// Baseline the modification times so the first poll only reports
	// changes made after Start.
	for _, path := range w.paths {
		if info, err := os.Stat(path); err == nil {
			w.lastModTimes[path] = info.ModTime()
		}
	}

	go w.pollLoop(ctx)
	go w.dispatchLoop(ctx)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop stops the file watcher. Stopping a watcher that never started is
// a no-op.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	close(w.stopChan)
	w.running = false

	w.logger.Info("file watcher stopped")
	return nil
}

func (w *FileWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkFiles()
		}
	}
}

// checkFiles compares current modification times against the previous
// poll and emits create, write, and remove events.
func (w *FileWatcher) checkFiles() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				if _, existed := w.lastModTimes[path]; existed {
					delete(w.lastModTimes, path)
					w.eventChan <- FileEvent{
						Path:      path,
						Op:        FileOpRemove,
						Timestamp: time.Now(),
					}
				}
			}
			continue
		}

		lastMod, existed := w.lastModTimes[path]
		if !existed {
			w.lastModTimes[path] = info.ModTime()
			w.eventChan <- FileEvent{
				Path:      path,
				Op:        FileOpCreate,
				Timestamp: time.Now(),
			}
		} else if info.ModTime().After(lastMod) {
			w.lastModTimes[path] = info.ModTime()
			w.eventChan <- FileEvent{
				Path:      path,
				Op:        FileOpWrite,
				Timestamp: time.Now(),
			}
		}
	}
}

// dispatchLoop collects events and invokes callbacks after the debounce
// window closes. Later events for the same path replace earlier ones, so
// callbacks see only the final state of a write burst. Collection and
// dispatch both happen on this goroutine; the timer only signals it, so
// the pending map needs no locking.
func (w *FileWatcher) dispatchLoop(ctx context.Context) {
	pending := make(map[string]FileEvent)

	debounce := time.NewTimer(w.debounceDelay)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event := <-w.eventChan:
			pending[event.Path] = event

			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(w.debounceDelay)
		case <-debounce.C:
			w.dispatchPending(pending)
			pending = make(map[string]FileEvent)
		}
	}
}

func (w *FileWatcher) dispatchPending(pending map[string]FileEvent) {
	w.mu.RLock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for path, evt := range pending {
		w.logger.Debug("dispatching file event",
			zap.String("path", path),
			zap.String("op", evt.Op.String()))

		for _, cb := range callbacks {
			cb(evt)
		}
	}
}

// AddPath adds a new path to watch. Adding a path twice is a no-op.
func (w *FileWatcher) AddPath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range w.paths {
		if p == path {
			return nil
		}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	w.paths = append(w.paths, absPath)

	if info, err := os.Stat(absPath); err == nil {
		w.lastModTimes[absPath] = info.ModTime()
	}

	w.logger.Info("added path to watcher", zap.String("path", absPath))
	return nil
}

// RemovePath removes a path from watching.
func (w *FileWatcher) RemovePath(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	absPath, _ := filepath.Abs(path)

	for i, p := range w.paths {
		if p == absPath {
			w.paths = append(w.paths[:i], w.paths[i+1:]...)
			delete(w.lastModTimes, absPath)
			w.logger.Info("removed path from watcher", zap.String("path", absPath))
			return nil
		}
	}

	return fmt.Errorf("path not found: %s", path)
}

// Paths returns the list of watched paths.
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, len(w.paths))
	copy(paths, w.paths)
	return paths
}

// IsRunning reports whether the watcher is running.
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
