package generator

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for further changes before
// regenerating.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-runs a callback whenever one of a set of files changes.
// Callbacks never overlap and receive every file changed since the last one.
type Watcher struct {
	paths    map[string]struct{}
	watcher  *fsnotify.Watcher
	onChange func(ctx context.Context, paths []string) error
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	runMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]struct{}
}

// NewWatcher creates a watcher for paths. onChange gets the absolute paths
// changed within one debounce window, sorted. A non-positive debounce uses
// DefaultDebounce.
func NewWatcher(paths []string, onChange func(ctx context.Context, paths []string) error, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	abs := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		a, err := filepath.Abs(p)
		if err != nil {
			_ = watcher.Close()
			return nil, err
		}
		abs[a] = struct{}{}
	}

	return &Watcher{
		paths:    abs,
		watcher:  watcher,
		onChange: onChange,
		logger:   logger,
		debounce: debounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		pending:  map[string]struct{}{},
	}, nil
}

// Start begins watching. The directories of the files are watched rather
// than the files, since editors commonly save by renaming a temp file.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dirs := map[string]struct{}{}
	for p := range w.paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return err
		}
	}

	w.logger.Info("Watching for changes", "files", len(w.paths), "debounce", w.debounce)

	go w.loop(ctx)
	return nil
}

// Stop stops the watcher and waits for its event loop to exit. A callback
// already in progress runs to completion.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	err := w.watcher.Close()
	<-w.done
	w.runMu.Lock()
	defer w.runMu.Unlock()
	return err
}

// IsRunning reports whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			path, watched := w.match(event)
			if !watched {
				continue
			}

			w.logger.Debug("File event detected", "event", event.Op.String(), "file", event.Name)

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.pendingMu.Lock()
			w.pending[path] = struct{}{}
			w.pendingMu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				w.trigger(ctx)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-w.stopCh:
			w.logger.Info("Watcher stopped")
			return

		case <-ctx.Done():
			w.logger.Info("Watcher context cancelled")
			return
		}
	}
}

func (w *Watcher) match(event fsnotify.Event) (string, bool) {
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return "", false
	}
	_, ok := w.paths[path]
	return path, ok
}

// takePending returns and clears the changed paths.
func (w *Watcher) takePending() []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	clear(w.pending)
	slices.Sort(paths)
	return paths
}

func (w *Watcher) trigger(ctx context.Context) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if ctx.Err() != nil || !w.IsRunning() {
		return
	}
	paths := w.takePending()
	if len(paths) == 0 {
		return
	}

	w.logger.Info("Files changed, regenerating", "files", paths)
	start := time.Now()
	if err := w.onChange(ctx, paths); err != nil {
		w.logger.Error("Regeneration failed", "error", err, "duration", time.Since(start))
		return
	}
	w.logger.Info("Regeneration completed", "duration", time.Since(start))
}
