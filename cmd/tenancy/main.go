package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenancy/pkg/api"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/avatars"
	"github.com/platinummonkey/tenancy/pkg/cache"
	"github.com/platinummonkey/tenancy/pkg/config"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/storage/postgres"
	"github.com/platinummonkey/tenancy/pkg/users"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel(), os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("tenancy server exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, cfg.OTelConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		metrics.AttachOTel(otelMetrics)
	}

	// Stores
	var (
		db        *sql.DB
		orgStore  orgs.Store
		userStore users.Store
	)
	if cfg.Database.URL != "" {
		cm, err := postgres.NewConnectionManager(ctx, cfg.ConnectionConfig(), logger)
		if err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc(func(context.Context) error { return cm.Close() })

		if err := postgres.RunMigrations(ctx, cm.Primary(), logger); err != nil {
			return err
		}
		cm.StartHealthCheckRoutine(ctx, 30*time.Second)

		db = cm.Primary()
		orgStore = orgs.NewPostgresStore(db).WithReader(cm.Replica())
		userStore = users.NewPostgresStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		orgStore = orgs.NewMemoryStore()
		userStore = users.NewMemoryStore()
	}

	// Redis backs the shared cache tier and the distributed rate limiter
	var redisClient *redis.Client
	if cfg.Cache.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{URL: cfg.Cache.RedisURL})
		if err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}

	var l2 redis.UniversalClient
	if redisClient != nil {
		l2 = redisClient
	}
	orgCache := cache.New(cache.Config{L1Size: cfg.Cache.L1Size, TTL: cfg.Cache.TTL, L1TTL: cfg.Cache.L1TTL}, l2, metrics, logger)

	var avatarStore orgs.AvatarStore
	if cfg.Storage.S3Bucket != "" {
		s3Store, err := avatars.NewS3Store(ctx, avatars.Config{
			Endpoint:        cfg.Storage.S3Endpoint,
			Region:          cfg.Storage.S3Region,
			Bucket:          cfg.Storage.S3Bucket,
			AccessKeyID:     cfg.Storage.S3AccessKeyID,
			SecretAccessKey: cfg.Storage.S3SecretAccessKey,
			UsePathStyle:    cfg.Storage.S3UsePathStyle,
			PublicBaseURL:   cfg.Storage.S3PublicBaseURL,
		}, metrics)
		if err != nil {
			return err
		}
		avatarStore = s3Store
	} else {
		logger.Info("S3_BUCKET not set, avatar uploads disabled")
	}

	auditLogger, err := newAuditLogger(cfg, db, logger)
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error { return auditLogger.Close() })

	// Services
	userService := users.NewService(userStore)
	directory := users.NewDirectory(userStore)
	orgService := orgs.NewService(orgStore, orgs.ServiceConfig{
		Users:                       directory,
		Decorator:                   directory,
		Cache:                       orgCache,
		Avatars:                     avatarStore,
		Audit:                       auditLogger,
		Metrics:                     metrics,
		Logger:                      logger,
		AllowAnonymousMemberListing: cfg.Tenancy.AllowAnonymousMemberListing,
	})
	userService = userService.WithMemberships(orgService)

	identity, err := newIdentity(ctx, cfg, directory, logger)
	if err != nil {
		return err
	}

	var rateLimit func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		rateLimit, err = newRateLimit(ctx, cfg, redisClient, logger)
		if err != nil {
			return err
		}
	}

	health := observability.NewHealthChecker(db, redisClient, version)
	server := api.NewServer(api.Config{
		Orgs:      orgService,
		Users:     userService,
		Health:    health,
		Metrics:   metrics,
		Logger:    logger,
		Identity:  identity,
		RateLimit: rateLimit,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      otelhttp.NewHandler(server, "tenancy-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	metricsMux := http.NewServeMux()
	observability.RegisterMetricsEndpoint(metricsMux, registry)
	observability.RegisterHealthRoutes(metricsMux, health)
	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddress,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown.RegisterServer(apiServer)
	shutdown.RegisterServer(metricsServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("address", apiServer.Addr).Info("Starting tenancy API server")
		return listen(apiServer)
	})
	g.Go(func() error {
		logger.WithField("address", metricsServer.Addr).Info("Starting metrics server")
		return listen(metricsServer)
	})
	if db != nil {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					metrics.UpdateDBStats(db.Stats())
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

func listen(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s failed: %w", server.Addr, err)
	}
	return nil
}

func newAuditLogger(cfg *config.Config, db *sql.DB, logger *observability.Logger) (*audit.MultiLogger, error) {
	sinks := []audit.Logger{audit.NewLogLogger(logger)}

	if cfg.Audit.Database {
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, dbLogger)
	}

	if cfg.Audit.FileDir != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Audit.FileDir,
			MaxSize:  cfg.Audit.FileMaxSize,
			MaxFiles: cfg.Audit.FileMaxKeep,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileLogger)
	}

	return audit.NewMultiLogger(sinks...), nil
}

func newIdentity(ctx context.Context, cfg *config.Config, directory *users.Directory, logger *observability.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.Auth.Mode != middleware.ModeOIDC {
		return middleware.HeaderIdentity, nil
	}

	verifier, err := middleware.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID)
	if err != nil {
		return nil, err
	}
	logger.WithField("issuer", cfg.Auth.OIDCIssuerURL).Info("Using OIDC bearer token identity")
	return middleware.OIDCIdentity(verifier, directory, logger), nil
}

func newRateLimit(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *observability.Logger) (func(http.Handler) http.Handler, error) {
	userConfig := middleware.RateLimitConfig{RequestsPerWindow: cfg.RateLimit.UserPerMinute, WindowDuration: time.Minute}
	anonConfig := middleware.RateLimitConfig{RequestsPerWindow: cfg.RateLimit.AnonymousPerMinute, WindowDuration: time.Minute}

	var userLimiter, anonLimiter middleware.Limiter
	if redisClient != nil {
		userLimiter = middleware.NewRedisLimiter(redisClient, userConfig, "")
		anonLimiter = middleware.NewRedisLimiter(redisClient, anonConfig, "")
	} else {
		memUser := middleware.NewMemoryLimiter(userConfig)
		memAnon := middleware.NewMemoryLimiter(anonConfig)
		memUser.StartCleanup(ctx)
		memAnon.StartCleanup(ctx)
		userLimiter, anonLimiter = memUser, memAnon
	}

	rl, err := middleware.NewRateLimitMiddleware(userLimiter, anonLimiter, logger).WithTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return rl.Handler, nil
}
