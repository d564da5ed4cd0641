package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Handler runs named cleanup hooks once the process is asked to stop.
type Handler struct {
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	hooks []hook

	trigger     chan struct{}
	triggerOnce sync.Once
	runOnce     sync.Once
	done        chan struct{}
	err         error
}

// NewHandler creates a shutdown handler whose hooks share a deadline of timeout.
func NewHandler(timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		timeout: timeout,
		logger:  logger,
		trigger: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnShutdown registers a shutdown hook.
// Hooks are called in reverse order of registration.
func (h *Handler) OnShutdown(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

// Trigger starts shutdown without a signal, e.g. after a listener fails.
func (h *Handler) Trigger() {
	h.triggerOnce.Do(func() { close(h.trigger) })
}

// Wait blocks until SIGINT, SIGTERM, Trigger or ctx cancellation, then
// runs the hooks and returns their joined errors.
func (h *Handler) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		h.logger.Info("shutdown signal received", "signal", sig.String())
	case <-h.trigger:
		h.logger.Info("shutdown triggered")
	case <-ctx.Done():
		h.logger.Info("shutdown context done", "cause", context.Cause(ctx))
	}
	return h.Shutdown()
}

// Shutdown runs every hook once. Later calls return the first result.
func (h *Handler) Shutdown() error {
	h.runOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		h.mu.Lock()
		hooks := make([]hook, len(h.hooks))
		copy(hooks, h.hooks)
		h.mu.Unlock()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			start := time.Now()
			if err := hooks[i].fn(ctx); err != nil {
				h.logger.Error("shutdown hook failed", "hook", hooks[i].name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", hooks[i].name, err))
				continue
			}
			h.logger.Debug("shutdown hook done", "hook", hooks[i].name, "elapsed", time.Since(start))
		}
		h.err = errors.Join(errs...)
		close(h.done)
	})
	<-h.done
	return h.err
}

// Done returns a channel that closes when shutdown is complete.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}
