package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrConflictRetriesExhausted is returned when a transaction kept
// conflicting with concurrent writers. Nothing was committed.
var ErrConflictRetriesExhausted = errors.New("badger: transaction conflict retries exhausted")

// CommitError wraps a failed Commit whose durability is unknown.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string { return "badger: commit: " + e.Err.Error() }
func (e *CommitError) Unwrap() error { return e.Err }

// BadgerEngine owns a Badger database opened with conflict detection.
type BadgerEngine struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	lastGCTime atomic.Int64 // Unix milliseconds
	gcRuns     atomic.Uint64

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge
	metricsConflicts    prometheus.Counter

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBadgerEngine opens the database and starts the GC loop.
func NewBadgerEngine(cfg BadgerConfig, logger *slog.Logger) (*BadgerEngine, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultBadgerConfig(cfg.Dir)
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = def.GCInterval
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = def.GCThreshold
	}
	if cfg.MaxTxnRetries <= 0 {
		cfg.MaxTxnRetries = def.MaxTxnRetries
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
		opts.SyncWrites = cfg.SyncWrites
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.DetectConflicts = true
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumMemtables > 0 {
		opts.NumMemtables = cfg.NumMemtables
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	e := &BadgerEngine{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go e.gcLoop()

	logger.Info("badger engine started",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"sync_writes", opts.SyncWrites,
		"gc_interval", cfg.GCInterval)
	return e, nil
}

// View runs fn in a read-only transaction.
func (e *BadgerEngine) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.db.View(fn)
}

// Update runs fn in a read-write transaction and commits it, retrying the
// whole transaction when it conflicts with a concurrent writer.
//
// Errors returned by fn are passed through unchanged and nothing is
// committed. A Commit failure other than a conflict is returned as
// *CommitError because the write may or may not be durable.
func (e *BadgerEngine) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt <= e.cfg.MaxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		txn := e.db.NewTransaction(true)
		if err := fn(txn); err != nil {
			txn.Discard()
			return err
		}
		err := txn.Commit()
		txn.Discard()

		switch {
		case err == nil:
			return nil
		case errors.Is(err, badger.ErrConflict):
			if e.metricsConflicts != nil {
				e.metricsConflicts.Inc()
			}
			backoff := time.Duration(attempt+1) * 50 * time.Microsecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		default:
			return &CommitError{Err: err}
		}
	}
	return ErrConflictRetriesExhausted
}

// GC runs value-log GC until Badger reports nothing left to rewrite.
func (e *BadgerEngine) GC(ctx context.Context) (int, error) {
	if e.cfg.InMemory {
		return 0, nil
	}
	runs := 0
	for ctx.Err() == nil {
		err := e.db.RunValueLogGC(e.cfg.GCThreshold)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			return runs, fmt.Errorf("badger: gc: %w", err)
		}
		runs++
	}
	e.lastGCTime.Store(time.Now().UnixMilli())
	e.gcRuns.Add(uint64(runs))
	if runs > 0 {
		e.logger.Info("badger gc completed", "rewrites", runs)
	}
	return runs, nil
}

// Size returns the LSM and value-log sizes in bytes.
func (e *BadgerEngine) Size() (lsm, vlog int64) {
	return e.db.Size()
}

// Ping reports whether the database accepts reads.
func (e *BadgerEngine) Ping(ctx context.Context) error {
	return e.View(ctx, func(*badger.Txn) error { return nil })
}

// Close stops background work and closes the database.
func (e *BadgerEngine) Close() error {
	e.logger.Info("shutting down badger engine")
	close(e.stopCh)
	<-e.doneCh
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("badger: close db: %w", err)
	}
	return nil
}

// RegisterMetrics registers Badger size gauges and the conflict counter.
// Call once, before serving traffic.
func (e *BadgerEngine) RegisterMetrics(reg prometheus.Registerer) *BadgerEngine {
	e.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tokvault",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})
	e.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tokvault",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})
	e.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tokvault",
		Subsystem: "badger",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last Badger GC run",
	})
	e.metricsConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tokvault",
		Subsystem: "badger",
		Name:      "txn_conflicts_total",
		Help:      "Transactions retried because of a write conflict",
	})
	reg.MustRegister(e.metricsLSMSize, e.metricsValueLogSize, e.metricsLastGCTime, e.metricsConflicts)
	e.updateGauges()
	return e
}

func (e *BadgerEngine) updateGauges() {
	if e.metricsLSMSize == nil {
		return
	}
	lsm, vlog := e.db.Size()
	e.metricsLSMSize.Set(float64(lsm))
	e.metricsValueLogSize.Set(float64(vlog))
	if t := e.lastGCTime.Load(); t > 0 {
		e.metricsLastGCTime.Set(float64(t) / 1000.0)
	}
}

func (e *BadgerEngine) gcLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := e.GC(ctx); err != nil {
				e.logger.Error("auto gc failed", "error", err)
			}
			cancel()
			e.updateGauges()
		case <-e.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
