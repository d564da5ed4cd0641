package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the bursts of events editors emit per save.
const DefaultDebounce = 200 * time.Millisecond

// Watcher watches configuration files for changes.
type Watcher struct {
	watcher   *fsnotify.Watcher
	files     map[string]struct{}
	callbacks []func(string)
	debounce  time.Duration
	mu        sync.RWMutex
	done      chan struct{}
	stopOnce  sync.Once
	logger    *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce sets the quiet period before callbacks fire. Zero fires on
// every event.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a new configuration file watcher.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		files:    make(map[string]struct{}),
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch adds a file to watch. The parent directory is watched so that
// editors replacing the file by rename are seen.
func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Error("failed to watch directory", "path", dir, "error", err)
		return err
	}
	w.mu.Lock()
	w.files[path] = struct{}{}
	w.mu.Unlock()
	w.logger.Debug("watching file for changes", "path", path)
	return nil
}

// OnChange registers a callback to be called with the path of a changed
// watched file.
func (w *Watcher) OnChange(callback func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start watches for changes until Stop is called.
func (w *Watcher) Start() {
	w.logger.Info("configuration watcher started")

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(event.Name)
			if !w.isWatched(name) {
				continue
			}
			w.logger.Debug("configuration file changed", "file", name, "op", event.Op.String())
			if w.debounce <= 0 {
				w.notifyCallbacks(name)
				continue
			}
			pending[name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			for name := range pending {
				w.notifyCallbacks(name)
				delete(pending, name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("configuration watcher error", "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// StartAsync starts watching in a goroutine.
func (w *Watcher) StartAsync() {
	go w.Start()
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		if err != nil {
			w.logger.Error("failed to close watcher", "error", err)
			return
		}
		w.logger.Info("configuration watcher stopped")
	})
	return err
}

func (w *Watcher) isWatched(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.files[path]
	return ok
}

func (w *Watcher) notifyCallbacks(path string) {
	w.mu.RLock()
	callbacks := append([]func(string){}, w.callbacks...)
	w.mu.RUnlock()
	for _, cb := range callbacks {
		cb(path)
	}
}
