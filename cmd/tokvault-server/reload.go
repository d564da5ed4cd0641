package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/yndnr/tokvault-go/internal/asset"
	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/infra/confloader"
	"github.com/yndnr/tokvault-go/internal/server/config"
	"github.com/yndnr/tokvault-go/internal/telemetry/logger"
)

// startReloader watches the config file and asset catalog. On change it
// applies the reloadable settings: delivery policy, log level and the
// catalog. Everything else needs a restart.
func startReloader(configFile string, cfg *config.ServerConfig, policy *service.PolicyResolver, assets *asset.Resolver, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if configFile != "" {
		if err := w.Watch(configFile); err != nil {
			w.Stop()
			return nil, err
		}
	}
	if cfg.Assets.Watch {
		if err := w.Watch(cfg.Assets.Catalog); err != nil {
			w.Stop()
			return nil, err
		}
	}

	catalogPath := filepath.Clean(cfg.Assets.Catalog)
	w.OnChange(func(path string) {
		if path == catalogPath {
			if err := assets.Reload(path); err != nil {
				log.Error("catalog reload failed; keeping previous catalog", "error", err)
				return
			}
			log.Info("catalog reloaded", "assets", assets.Len())
			return
		}
		reloadConfig(configFile, policy, log)
	})
	w.StartAsync()
	return w, nil
}

func reloadConfig(configFile string, policy *service.PolicyResolver, log *slog.Logger) {
	next, err := loadConfig(configFile)
	if err != nil {
		log.Error("config reload failed; keeping previous settings", "error", err)
		return
	}
	if err := policy.Update(next.PolicyConfig()); err != nil {
		log.Error("policy reload rejected", "error", err)
		return
	}
	logger.SetLevel(next.Log.Level)
	log.Info("config reloaded",
		"log_level", next.Log.Level,
		"default_ttl", next.Delivery.DefaultTTL,
		"default_max_uses", next.Delivery.DefaultMaxUses,
		"product_policies", len(next.Delivery.Products))
}

// pruneLimiters drops idle per-client limiters until ctx ends.
func pruneLimiters(ctx context.Context, limiters *service.RateLimiterRegistry, idle time.Duration, log *slog.Logger) {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiters.Prune(idle); n > 0 {
				log.Debug("pruned idle rate limiters", "removed", n, "tracked", limiters.Len())
			}
		}
	}
}
