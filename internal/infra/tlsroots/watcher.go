package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher serves the HTTPS key pair and reloads it when either file changes.
type Watcher struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.RWMutex
	cert     *tls.Certificate
	notAfter time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger for the watcher.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce sets how long to wait after the last change before reloading.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher loads the key pair and returns a watcher for it.
func NewWatcher(certFile, keyFile string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		done:     make(chan struct{}),
		logger:   slog.Default(),
		debounce: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}
	return w, nil
}

// Start watches the cert and key directories until Stop is called.
// A failed reload keeps the previous key pair.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	defer fw.Close()

	// Directories, not files: editors and secret mounts replace files by rename.
	for _, dir := range uniqueDirs(w.certFile, w.keyFile) {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	w.logger.Info("certificate watcher started", "cert_file", w.certFile, "key_file", w.keyFile)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(event.Name)
			if name != w.certFile && name != w.keyFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.reload(); err != nil {
				w.logger.Error("certificate reload failed", "error", err, "cert_file", w.certFile)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("certificate watcher error", "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return nil
		}
	}
}

// StartAsync starts watching in a goroutine.
func (w *Watcher) StartAsync() {
	go func() {
		if err := w.Start(); err != nil {
			w.logger.Error("certificate watcher stopped with error", "error", err)
		}
	}()
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// GetCertificate implements tls.Config.GetCertificate.
func (w *Watcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cert, nil
}

// NotAfter returns the expiry of the served leaf certificate.
func (w *Watcher) NotAfter() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.notAfter
}

// ServerTLSConfig returns a server config that always serves the latest pair.
func (w *Watcher) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: w.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

func (w *Watcher) reload() error {
	cert, err := tls.LoadX509KeyPair(w.certFile, w.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("parse leaf: %w", err)
	}
	cert.Leaf = leaf

	w.mu.Lock()
	w.cert = &cert
	w.notAfter = leaf.NotAfter
	w.mu.Unlock()

	w.logger.Info("certificate loaded",
		"cert_file", w.certFile,
		"not_after", leaf.NotAfter.UTC().Format(time.RFC3339),
	)
	if time.Until(leaf.NotAfter) < 7*24*time.Hour {
		w.logger.Warn("certificate expires soon", "not_after", leaf.NotAfter.UTC().Format(time.RFC3339))
	}
	return nil
}

func uniqueDirs(paths ...string) []string {
	var dirs []string
	seen := make(map[string]bool)
	for _, p := range paths {
		d := filepath.Dir(p)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}
