package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig holds configuration for the file watcher
type WatcherConfig struct {
	// Quiet period after the last event before OnChange runs
	DebounceDuration time.Duration
	// Called with the absolute paths that changed, sorted
	OnChange func(changed []string) error
	// Called when watching or OnChange fails
	OnError func(error)
}

// DefaultWatcherConfig returns default watcher configuration
func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		DebounceDuration: 500 * time.Millisecond,
	}
}

// Watcher reports changes to the files a client was built from, such as the
// properties file and the trust store. Parent directories are watched so
// replacing a file by rename and recreating a removed file are both seen.
type Watcher struct {
	paths   map[string]struct{}
	config  *WatcherConfig
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu        sync.Mutex
	pending   map[string]struct{}
	debouncer *time.Timer
	stopped   bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher watches paths. Every path must exist when it is called.
func NewWatcher(paths []string, config *WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}
	if config == nil {
		config = DefaultWatcherConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	abs := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		if _, err := os.Stat(a); err != nil {
			return nil, fmt.Errorf("failed to watch file: %w", err)
		}
		abs[a] = struct{}{}
		dirs[filepath.Dir(a)] = struct{}{}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}

	return &Watcher{
		paths:   abs,
		config:  config,
		watcher: fw,
		logger:  logger.With("component", "file-watcher"),
		pending: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching for changes
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.watchLoop()
	w.logger.Info("File watcher started", "files", w.Paths())
}

// Stop stops the watcher and drops pending notifications. It is safe to
// call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()

		w.mu.Lock()
		w.stopped = true
		if w.debouncer != nil {
			w.debouncer.Stop()
		}
		w.mu.Unlock()

		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", "error", err)
			w.reportError(fmt.Errorf("watcher error: %w", err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Clean(event.Name)
	if _, ok := w.paths[name]; !ok {
		return
	}

	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		w.logger.Debug("File changed", "file", name, "op", event.Op.String())
		w.schedule(name)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// Applied when the file reappears.
		w.logger.Warn("File removed", "file", name)
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.pending[path] = struct{}{}
	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	w.debouncer = time.AfterFunc(w.config.DebounceDuration, w.flush)
}

// flush hands the accumulated paths to OnChange.
func (w *Watcher) flush() {
	w.mu.Lock()
	if w.stopped || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(changed)
	if w.config.OnChange == nil {
		return
	}
	w.logger.Info("Files changed", "files", changed)
	if err := w.config.OnChange(changed); err != nil {
		w.logger.Error("Change handler failed", "files", changed, "error", err)
		w.reportError(fmt.Errorf("failed to apply change: %w", err))
	}
}

func (w *Watcher) reportError(err error) {
	if w.config.OnError != nil {
		w.config.OnError(err)
	}
}

// Paths returns the watched absolute paths, sorted
func (w *Watcher) Paths() []string {
	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
