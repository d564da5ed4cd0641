package storage

import "time"

// BadgerConfig configures the embedded Badger engine.
type BadgerConfig struct {
	// Dir is the storage directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory (tests only).
	InMemory bool

	// GCInterval is the interval between value-log GC runs.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 256MB
	ValueLogFileSize int64

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int

	// SyncWrites fsyncs every commit. Token consumption must survive a
	// crash, so this defaults to true.
	SyncWrites bool

	// MaxTxnRetries bounds retries of a transaction on write conflicts.
	// Default: 16
	MaxTxnRetries int
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:              dir,
		GCInterval:       10 * time.Minute,
		GCThreshold:      0.5,
		CacheSize:        64 << 20,
		ValueLogFileSize: 256 << 20,
		NumMemtables:     2,
		SyncWrites:       true,
		MaxTxnRetries:    16,
	}
}
