package service

import (
	"context"
	"log/slog"
	"time"
)

// SweeperConfig holds configuration for Sweeper.
type SweeperConfig struct {
	// Interval between sweeps (default: 1h). Zero disables the loop.
	Interval time.Duration

	// Retention keeps expired records this long after expiry (default: 30d).
	Retention time.Duration

	// Timeout bounds one sweep (default: 1m).
	Timeout time.Duration
}

// DefaultSweeperConfig returns default configuration.
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Interval:  time.Hour,
		Retention: 30 * 24 * time.Hour,
		Timeout:   time.Minute,
	}
}

// Sweeper removes long-expired token records. Validity never depends on it:
// an expired token fails redemption whether or not it was swept.
type Sweeper struct {
	store  TokenStore
	cfg    SweeperConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(store TokenStore, cfg *SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg == nil {
		cfg = DefaultSweeperConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := *cfg
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
	return &Sweeper{store: store, cfg: c, logger: logger, now: time.Now}
}

// SweepOnce removes records that expired more than Retention ago.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	return s.SweepBefore(ctx, s.now().Add(-s.cfg.Retention))
}

// SweepBefore removes records that expired before cutoff.
func (s *Sweeper) SweepBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	n, err := s.store.Sweep(ctx, cutoff)
	if err != nil {
		s.logger.Warn("token sweep failed", "error", err)
		return n, err
	}
	if n > 0 {
		s.logger.Info("token sweep completed", "removed", n, "cutoff", cutoff.UTC())
	}
	return n, nil
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}
