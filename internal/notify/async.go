package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/service"
)

// ErrQueueFull is returned when the async queue cannot take more work.
var ErrQueueFull = errors.New("notify: queue full")

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("notify: closed")

// Observer receives per-attempt results. metric.Registry implements it.
type Observer interface {
	RecordNotification(sink, result string)
}

// AsyncConfig holds configuration for Async.
type AsyncConfig struct {
	// Name labels metrics and logs, e.g. "webhook".
	Name string

	// QueueSize bounds pending notifications (default: 1024).
	QueueSize int

	// Workers is the number of sending goroutines (default: 2).
	Workers int

	// MaxAttempts bounds sends per notification (default: 5).
	MaxAttempts int

	// Backoff is the first retry delay, doubled per attempt (default: 500ms).
	Backoff time.Duration

	// Timeout bounds one send attempt (default: 10s).
	Timeout time.Duration
}

// Async sends notifications on background workers with retry.
type Async struct {
	next     service.Notifier
	cfg      AsyncConfig
	logger   *slog.Logger
	observer Observer

	queue chan job
	stop  chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type job struct {
	ctx context.Context
	n   service.Notification
}

// NewAsync starts workers sending to next. observer may be nil.
func NewAsync(next service.Notifier, cfg AsyncConfig, logger *slog.Logger, observer Observer) *Async {
	if cfg.Name == "" {
		cfg.Name = "notify"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:     next,
		cfg:      cfg,
		logger:   logger.With("sink", cfg.Name),
		observer: observer,
		queue:    make(chan job, cfg.QueueSize),
		stop:     make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}
	return a
}

// Notify queues n and returns immediately. The send outlives ctx's
// cancellation but keeps its values.
func (a *Async) Notify(ctx context.Context, n service.Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- job{ctx: context.WithoutCancel(ctx), n: n}:
		return nil
	default:
		a.observe("dropped")
		return ErrQueueFull
	}
}

// Close stops accepting notifications and waits for queued ones to be
// sent, or for ctx to end, whichever comes first.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(a.stop)
		<-done
		return ctx.Err()
	}
}

func (a *Async) worker() {
	defer a.wg.Done()
	for j := range a.queue {
		a.send(j)
	}
}

func (a *Async) send(j job) {
	delay := a.cfg.Backoff
	var err error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(j.ctx, a.cfg.Timeout)
		err = a.next.Notify(ctx, j.n)
		cancel()
		if err == nil {
			a.observe("ok")
			return
		}
		a.observe("error")
		if attempt == a.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-a.stop:
			attempt = a.cfg.MaxAttempts
		}
	}
	a.observe("failed")
	a.logger.Warn("notification dropped after retries",
		"order_id", j.n.OrderID,
		"product_id", j.n.ProductID,
		"error", err)
}

func (a *Async) observe(result string) {
	if a.observer != nil {
		a.observer.RecordNotification(a.cfg.Name, result)
	}
}
