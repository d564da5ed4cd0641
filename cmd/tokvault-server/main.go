package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/tokvault-go/internal/asset"
	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/infra/buildinfo"
	"github.com/yndnr/tokvault-go/internal/infra/confloader"
	"github.com/yndnr/tokvault-go/internal/infra/shutdown"
	"github.com/yndnr/tokvault-go/internal/infra/tlsroots"
	"github.com/yndnr/tokvault-go/internal/server/config"
	"github.com/yndnr/tokvault-go/internal/server/httpserver"
	"github.com/yndnr/tokvault-go/internal/server/httpserver/handler"
	"github.com/yndnr/tokvault-go/internal/telemetry/logger"
	"github.com/yndnr/tokvault-go/internal/telemetry/metric"
	"github.com/yndnr/tokvault-go/pkg/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		checkOnly   = flag.Bool("check", false, "Validate configuration and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("tokvault-server " + buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *checkOnly {
		fmt.Println("configuration ok")
		return nil
	}

	appLog, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(appLog)
	log := appLog.Slog()

	log.Info("starting tokvault-server",
		"version", buildinfo.Get().Version,
		"commit", buildinfo.Get().Commit,
		"config", *configFile,
		"settings", config.Sanitize(cfg))
	if !config.SharedBackend(cfg.Storage.Backend) {
		log.Warn("storage backend is local to this process; run a single instance or select postgres or redis",
			"backend", cfg.Storage.Backend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := metric.Global()
	stop := shutdown.NewHandler(cfg.Server.HTTP.ShutdownTimeout, log)

	// Stores
	stores, err := openStores(ctx, cfg, metrics, log)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	stop.OnShutdown("storage", func(context.Context) error { return stores.Close() })

	// Token codec
	current, previous := cfg.TokenSecrets()
	codec, err := token.NewCodec(current, token.WithPreviousSecrets(previous...))
	if err != nil {
		return fmt.Errorf("init token codec: %w", err)
	}

	// Asset catalog
	catalog, err := asset.LoadCatalog(cfg.Assets.Catalog)
	if err != nil {
		return fmt.Errorf("load asset catalog: %w", err)
	}
	assets := asset.NewResolver(catalog)

	// Notifications
	notifier, err := buildNotifier(cfg, metrics, log)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}
	stop.OnShutdown("notifier", notifier.Close)

	// Services
	policy := service.NewPolicyResolver(cfg.PolicyConfig())
	delivery := service.NewDeliveryService(service.DeliveryDeps{
		Store:    stores.Tokens,
		Codec:    codec,
		Assets:   assets,
		Notifier: notifier,
		Policy:   policy,
		Recorder: metrics,
		Logger:   log,
	}, cfg.DeliveryConfig())
	orders := service.NewOrderService(stores.Orders, delivery, log)
	download := service.NewDownloadService(stores.Tokens, codec, assets, metrics, log,
		&service.DownloadConfig{StoreTimeout: cfg.Storage.Timeout})
	sweeper := service.NewSweeper(stores.Tokens, cfg.SweeperConfig(), log)

	authSvc, err := service.NewAuthService(&service.AuthServiceConfig{
		Secret: []byte(cfg.Security.AuthSecret),
		Issuer: cfg.Security.AuthIssuer,
		Leeway: cfg.Security.AuthLeeway,
	})
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	var limiters *service.RateLimiterRegistry
	if cfg.RateLimit.Enabled {
		limiters = service.NewRateLimiterRegistry(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	}

	// TLS
	var certs *tlsroots.Watcher
	if cfg.Server.HTTP.TLSCertFile != "" {
		certs, err = tlsroots.NewWatcher(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile,
			tlsroots.WithLogger(log))
		if err != nil {
			return fmt.Errorf("load tls key pair: %w", err)
		}
		certs.StartAsync()
		stop.OnShutdown("tls-watcher", func(context.Context) error { certs.Stop(); return nil })
	}

	// HTTP
	h := handler.New(&handler.Config{
		Orders:   orders,
		Download: download,
		Sweeper:  sweeper,
		Ready:    stores.Ping,
		Status: func() map[string]any {
			st := map[string]any{
				"backend":        stores.Backend,
				"catalog_assets": assets.Len(),
				"log_level":      logger.GetLevel(),
				"notify_sink":    cfg.Notify.Sink,
			}
			if limiters != nil {
				st["rate_limited_clients"] = limiters.Len()
			}
			if certs != nil {
				st["tls_not_after"] = certs.NotAfter().UTC().Format(time.RFC3339)
			}
			return st
		},
		Logger: log,
	})
	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Handler:             h,
		Auth:                authSvc,
		RateLimiter:         limiters,
		Observer:            metrics,
		Metrics:             metrics.Handler(),
		MetricsAuthRequired: cfg.Server.HTTP.MetricsAuth,
		AdminAllowList:      cfg.Server.HTTP.AdminAllowList,
		TrustedProxies:      cfg.Server.HTTP.TrustedProxies,
		EnableAudit:         cfg.Server.HTTP.Audit,
		Logger:              log,
	})
	srv := httpserver.New(&httpserver.ServerConfig{
		Addr:              cfg.Server.HTTP.Addr,
		ReadHeaderTimeout: cfg.Server.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.HTTP.IdleTimeout,
		WriteTimeout:      cfg.Server.HTTP.WriteTimeout,
		Certs:             certs,
		Logger:            log,
	}, router)
	// Registered last so the listener drains before anything else closes.
	stop.OnShutdown("http", srv.Shutdown)

	// Hot reload of policy, log level and catalog.
	if *configFile != "" || cfg.Assets.Watch {
		w, err := startReloader(*configFile, cfg, policy, assets, log)
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else {
			stop.OnShutdown("config-watcher", func(context.Context) error { return w.Stop() })
		}
	}

	// Background loops
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil {
			stop.Trigger()
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	if limiters != nil {
		g.Go(func() error {
			pruneLimiters(gctx, limiters, cfg.RateLimit.IdleTTL, log)
			return nil
		})
	}

	log.Info("server started",
		"addr", cfg.Server.HTTP.Addr,
		"backend", stores.Backend,
		"public_base_url", cfg.Server.PublicBaseURL)

	shutdownErr := stop.Wait(ctx)
	cancel()
	runErr := g.Wait()

	if err := errors.Join(runErr, shutdownErr); err != nil {
		log.Error("server stopped with error", "error", err)
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from defaults, file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	var opts []confloader.Option
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
