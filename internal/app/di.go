// Package app wires together the components that make up a running
// key-commune process: configuration, storage, the credential lifecycle,
// the admission pipeline, and the HTTP surfaces that expose it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/portablestew/key-commune/internal/admission"
	"github.com/portablestew/key-commune/internal/config"
	"github.com/portablestew/key-commune/internal/credential"
	"github.com/portablestew/key-commune/internal/cryptoutil"
	"github.com/portablestew/key-commune/internal/database"
	"github.com/portablestew/key-commune/internal/forwarder"
	"github.com/portablestew/key-commune/internal/hotcache"
	apphttp "github.com/portablestew/key-commune/internal/http"
	"github.com/portablestew/key-commune/internal/janitor"
	"github.com/portablestew/key-commune/internal/lifecycle"
	"github.com/portablestew/key-commune/internal/loadbalancer"
	"github.com/portablestew/key-commune/internal/metrics"
	"github.com/portablestew/key-commune/internal/provider"
	"github.com/portablestew/key-commune/internal/readcache"
	"github.com/portablestew/key-commune/internal/stats"
)

// readCacheCapacity bounds how many distinct cacheable-path responses are
// held in memory at once, independent of the providers file's TTL settings.
const readCacheCapacity = 100

// Container assembles every component a running process needs and owns
// their shutdown order. Unlike the lazily-memoized container this package
// started from, construction here is eager and sequential: key-commune has
// one fixed dependency graph per process, so there is nothing to gain from
// deferring initialization to first access, and eager construction fails
// fast on a bad config or an unreadable providers file.
type Container struct {
	config *config.Config
	logger *slog.Logger

	db         *database.DB
	cipher     *cryptoutil.AESGCMCipher
	credStore  *credential.Store
	statsStore *stats.Store
	cache      *hotcache.Cache
	lifecycle  *lifecycle.Manager
	selector   *loadbalancer.Selector
	forwarder  *forwarder.Forwarder
	readCache  *readcache.Cache

	provider provider.Provider

	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics

	pipeline      *admission.Pipeline
	janitor       *janitor.Janitor
	httpServer    *apphttp.Server
	metricsServer *apphttp.MetricsServer

	startedAt time.Time
}

// NewContainer builds and wires every component needed to serve cfg's
// configured provider. The returned Container is fully constructed; callers
// should call Run (or drive HTTPServer/MetricsServer/Janitor directly) and
// eventually Shutdown.
func NewContainer(cfg *config.Config) (*Container, error) {
	c := &Container{config: cfg, startedAt: time.Now()}

	c.logger = newLogger(cfg.LogLevel)

	registry, err := provider.Load(cfg.ProvidersConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load providers config: %w", err)
	}
	p, ok := registry.Get(cfg.ServerProvider)
	if !ok {
		return nil, fmt.Errorf("no provider configured under name %q", cfg.ServerProvider)
	}
	c.provider = p

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.db = db
	if err := database.RunMigrations(db.Writer); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	key, err := cryptoutil.LoadOrGenerateKey(cfg.EncryptionKey, cfg.EncryptionKeyFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption key: %w", err)
	}
	cipher, err := cryptoutil.NewAESGCM(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	c.cipher = cipher

	c.credStore = credential.NewStore(c.db, c.cipher)
	c.statsStore = stats.NewStore(c.db)
	c.cache = hotcache.New(c.credStore, c.statsStore, cfg.CacheRefreshInterval())
	c.lifecycle = lifecycle.NewManager(c.credStore, c.statsStore, lifecycle.Config{
		PresentedKeyRateLimitSeconds: cfg.PresentedKeyRateLimitSeconds,
		AuthFailureBlockMinutes:      cfg.AuthFailureBlockMinutes,
		AuthFailureDeleteThreshold:   cfg.AuthFailureDeleteThreshold,
		ThrottleBackoffBaseMinutes:   cfg.ThrottleBackoffBaseMinutes,
		ThrottleDeleteThreshold:      cfg.ThrottleDeleteThreshold,
		MaxPoolSize:                 cfg.DatabaseMaxKeys,
	})
	c.selector = loadbalancer.New()
	c.forwarder = forwarder.New()
	c.readCache = readcache.New(readCacheCapacity)

	if cfg.MetricsEnabled {
		metricsProvider, err := metrics.NewProvider(cfg.MetricsNamespace)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics provider: %w", err)
		}
		c.metricsProvider = metricsProvider

		businessMetrics, err := metrics.NewBusinessMetrics(metricsProvider.MeterProvider(), cfg.MetricsNamespace)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize business metrics: %w", err)
		}
		c.businessMetrics = businessMetrics
	} else {
		c.businessMetrics = metrics.NewNoOpBusinessMetrics()
	}

	c.pipeline = admission.New(
		cfg.ServerProvider,
		c.provider,
		c.credStore,
		c.statsStore,
		c.cache,
		c.lifecycle,
		c.selector,
		c.forwarder,
		c.readCache,
		c.businessMetrics,
		c.logger,
	)

	c.janitor = janitor.New(janitor.Config{
		RetentionDays:          cfg.StatsRetentionDays,
		CleanupIntervalMinutes: cfg.StatsCleanupIntervalMinutes,
	}, c.statsStore, c.logger)

	metricsNamespace := ""
	var metricsProviderArg *metrics.Provider
	if c.metricsProvider != nil {
		metricsProviderArg = c.metricsProvider
		metricsNamespace = cfg.MetricsNamespace
	}

	c.httpServer = apphttp.NewServer(
		cfg.ServerHost,
		cfg.ServerPort,
		c.logger,
		c.pipeline,
		c.cache,
		c.startedAt,
		cfg.CORSEnabled,
		cfg.CORSAllowOrigins,
		metricsProviderArg,
		metricsNamespace,
	)

	if c.metricsProvider != nil {
		c.metricsServer = apphttp.NewMetricsServer(cfg.ServerHost, cfg.MetricsPort, c.logger, c.metricsProvider)
	}

	return c, nil
}

// Config returns the configuration this container was built from.
func (c *Container) Config() *config.Config { return c.config }

// Logger returns the process-wide structured logger.
func (c *Container) Logger() *slog.Logger { return c.logger }

// CredentialStore returns the credential store, for CLI commands that
// mutate the pool directly (import, generation).
func (c *Container) CredentialStore() *credential.Store { return c.credStore }

// StatisticsStore returns the daily statistics store, for CLI commands
// that trigger cleanup out of band.
func (c *Container) StatisticsStore() *stats.Store { return c.statsStore }

// Janitor returns the periodic statistics cleanup worker.
func (c *Container) Janitor() *janitor.Janitor { return c.janitor }

// HTTPServer returns the wire-facing proxy server.
func (c *Container) HTTPServer() *apphttp.Server { return c.httpServer }

// MetricsServer returns the Prometheus metrics server, or nil if metrics
// are disabled.
func (c *Container) MetricsServer() *apphttp.MetricsServer { return c.metricsServer }

// Run starts the janitor (if auto-cleanup is enabled), the HTTP server, and
// the metrics server, then blocks until ctx is cancelled, at which point it
// drains and shuts down. The hot cache needs no background loop of its own:
// it refreshes lazily on the first stale read of each request.
func (c *Container) Run(ctx context.Context) error {
	if c.config.StatsAutoCleanup {
		go c.janitor.Run(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if c.config.SSLEnabled {
			errCh <- c.httpServer.StartTLS(c.config.SSLCertPath, c.config.SSLKeyPath)
			return
		}
		errCh <- c.httpServer.Start()
	}()

	if c.metricsServer != nil {
		go func() {
			errCh <- c.metricsServer.Start(ctx)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			c.logger.Error("server exited unexpectedly", slog.String("error", err.Error()))
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), c.config.ServerDrainSeconds)
	defer cancel()
	return c.Shutdown(drainCtx)
}

// Shutdown drains and closes every component that holds a resource.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}
	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// newLogger builds the process-wide structured logger from the configured
// level, matching the level names accepted by config.Config.LogLevel.
func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}
