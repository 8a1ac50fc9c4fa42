package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/timeauthority/internal/api"
	"github.com/onnwee/timeauthority/internal/archive"
	"github.com/onnwee/timeauthority/internal/audit"
	"github.com/onnwee/timeauthority/internal/config"
	"github.com/onnwee/timeauthority/internal/docs"
	"github.com/onnwee/timeauthority/internal/health"
	"github.com/onnwee/timeauthority/internal/jobs"
	"github.com/onnwee/timeauthority/internal/keys"
	"github.com/onnwee/timeauthority/internal/middleware"
	"github.com/onnwee/timeauthority/internal/seal"
	"github.com/onnwee/timeauthority/internal/tracing"
)

const (
	serviceName            = "time-authority"
	shutdownTimeout        = 10 * time.Second
	rateLimitCleanupPeriod = 5 * time.Minute
)

// app holds the wired service and everything that must be released on shutdown.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	handler http.Handler
	engine  *seal.Engine

	auditLog audit.Repository
	fileLog  *audit.FileLog   // nil when the log is kept in memory
	memLog   *audit.MemoryLog // nil when the log is a file

	archiver *archive.Service
	tracer   *tracing.Provider
	redis    *redis.Client
	ipLimits *middleware.InMemoryRateLimitStore
	registry *prometheus.Registry
	jobs     *jobs.Runner
}

// newApp builds the service from configuration.
func newApp(cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	jobMetrics := jobs.NewMetrics()
	a := &app{cfg: cfg, logger: logger, jobs: jobs.NewRunner(jobMetrics, logger)}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	a.tracer, err = tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Logger:         logger,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.OTelExporterType,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	provider, err := keys.NewProvider(cfg.Keys())
	if err != nil {
		return nil, fmt.Errorf("signing keys: %w", err)
	}
	if pp, ok := provider.(*keys.PersistentProvider); ok && pp.OpaquePublicKey() {
		logger.Warn("SIGNER_PUBKEY is not a PKIX PEM public key, seal signatures will not verify against it",
			"hint", "unset SIGNER_PUBKEY to publish the key derived from SIGNER_PRIVATE_KEY_PEM")
	}
	if provider.Mode() == keys.ModeEphemeral {
		logger.Warn("no signing key configured, every seal is signed with a fresh ephemeral key",
			"hint", "set SIGNER_PRIVATE_KEY_PEM and SIGNER_PUBKEY")
	}

	if cfg.InMemoryAuditLog() {
		a.memLog = audit.NewMemoryLog()
		a.auditLog = a.memLog
		logger.Warn("audit log is kept in memory and is lost on restart")
	} else {
		a.fileLog, err = audit.Open(cfg.AuditLogPath,
			audit.WithSync(cfg.AuditLogSync),
			audit.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
		a.auditLog = a.fileLog
	}

	if cfg.ArchiveEnabled() {
		a.archiver, err = archive.NewService(archive.Config{
			Bucket:          cfg.ArchiveBucket,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Endpoint:        cfg.ArchiveEndpoint,
			Region:          cfg.ArchiveRegion,
		})
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sealMetrics := seal.NewMetrics()
	if err := sealMetrics.Register(a.registry); err != nil {
		return nil, fmt.Errorf("register seal metrics: %w", err)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(a.registry); err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}
	if err := jobMetrics.Register(a.registry); err != nil {
		return nil, fmt.Errorf("register job metrics: %w", err)
	}

	a.engine, err = seal.NewEngine(seal.Config{
		Keys:     provider,
		Recorder: a.auditLog,
		Metrics:  sealMetrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("seal engine: %w", err)
	}

	var redisChecker api.HealthChecker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		redisChecker = health.NewRedisChecker(a.redis)
	}

	// A nil limiter leaves the issuance routes unthrottled.
	var issueLimiter func(http.Handler) http.Handler
	if cfg.RateLimitEnabled() {
		var limitStore middleware.RateLimitStore
		if a.redis != nil {
			limitStore = middleware.NewRedisRateLimitStore(a.redis).WithMetrics(httpMetrics)
		} else {
			a.ipLimits = middleware.NewInMemoryRateLimitStore()
			limitStore = a.ipLimits
		}
		issueLimiter = middleware.RateLimiterWithMetrics(limitStore, middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimitPerMinute,
			WindowDuration:    time.Minute,
		}, middleware.IPKeyFunc(cfg.TrustedProxyPrefixes()...), httpMetrics)
	}

	var auditChecker api.HealthChecker
	if a.fileLog != nil {
		auditChecker = a.fileLog
	}

	router := api.NewRouter(api.RouterConfig{
		Seals: api.NewSealHandlers(a.engine, a.auditLog),
		Meta:  api.NewMetaHandler(a.engine, version),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			AuditChecker:   auditChecker,
			RedisChecker:   redisChecker,
			MetricsEnabled: true,
		}),
		Docs:         docs.NewHandler(api.ServiceName, "/openapi.yaml"),
		Metrics:      middleware.InternalAuth(cfg.MetricsToken)(middleware.MetricsHandler(a.registry)),
		IssueLimiter: issueLimiter,
	})

	// Middleware chain (outermost first): RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS
	var handler http.Handler = router
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         3600,
	})(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	if a.tracer.IsEnabled() {
		handler = middleware.Tracing(serviceName)(handler)
	}
	a.handler = middleware.RequestID(handler)

	return a, nil
}

// banner logs the effective service identity once at startup.
func (a *app) banner(addr string) {
	a.logger.Info("time authority ready",
		"version", version,
		"addr", addr,
		"signer_mode", a.engine.SignerMode(),
		"audit_log", a.cfg.AuditLogPath,
		"audit_entries", a.auditLog.Stats().Total,
		"archive_enabled", a.archiver != nil,
		"tracing_enabled", a.tracer.IsEnabled(),
		"rate_limit_per_minute", a.cfg.RateLimitPerMinute,
		"shared_rate_limits", a.cfg.RateLimitEnabled() && a.redis != nil,
	)
}

// archiveSnapshot uploads the current audit log when archiving is configured.
func (a *app) archiveSnapshot(ctx context.Context) error {
	if a.archiver == nil || a.auditLog.Stats().Total == 0 {
		return nil
	}
	return a.jobs.Run(ctx, jobs.JobTypeAuditArchive, a.uploadSnapshot)
}

func (a *app) uploadSnapshot(ctx context.Context) error {
	var (
		result *archive.Result
		err    error
	)
	if a.fileLog != nil {
		result, err = a.archiver.ArchiveFile(ctx, a.fileLog.Path())
	} else {
		var buf bytes.Buffer
		for _, line := range a.memLog.Lines() {
			buf.Write(line)
			buf.WriteByte('\n')
		}
		result, err = a.archiver.ArchiveBytes(ctx, buf.Bytes())
	}
	if err != nil {
		return fmt.Errorf("archive audit log: %w", err)
	}

	a.logger.InfoContext(ctx, "audit log archived",
		"bucket", a.archiver.Bucket(),
		"key", result.Key,
		"entries", result.Entries,
		"sha256", result.SHA256,
	)
	return nil
}

// close archives the audit log and releases every resource. It is safe to
// call on a partially built app.
func (a *app) close(ctx context.Context) error {
	var errs []error

	if a.auditLog != nil {
		if err := a.archiveSnapshot(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.fileLog != nil {
		if err := a.fileLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit log: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}

// run serves HTTP until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		_ = a.close(context.Background())
		return fmt.Errorf("listen: %w", err)
	}
	return a.serve(ctx, ln)
}

// serve runs the HTTP server on ln until ctx is cancelled or the server fails.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting server", "addr", ln.Addr().String())
		a.banner(ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if a.ipLimits != nil {
		g.Go(func() error {
			a.jobs.Every(gctx, jobs.JobTypeRateLimitCleanup, rateLimitCleanupPeriod, func(ctx context.Context) error {
				removed := a.ipLimits.Cleanup()
				a.logger.DebugContext(ctx, "expired rate limit windows dropped", "removed", removed, "tracked", a.ipLimits.Len())
				return nil
			})
			return nil
		})
	}

	serveErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	closeErr := a.close(closeCtx)

	a.logger.Info("server stopped")
	return errors.Join(serveErr, closeErr)
}
