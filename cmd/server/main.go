package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eyesee/license-server-go/internal/config"
	"github.com/eyesee/license-server-go/internal/database"
	"github.com/eyesee/license-server-go/internal/jobs"
	"github.com/eyesee/license-server-go/internal/license"
	"github.com/eyesee/license-server-go/internal/metrics"
	"github.com/eyesee/license-server-go/internal/middleware"
	"github.com/eyesee/license-server-go/internal/redis"
	"github.com/eyesee/license-server-go/internal/repository"
	"github.com/eyesee/license-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(cfg.IsProduction()); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	registry, err := cfg.Products()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build product registry")
	}
	codec := license.NewCodec(registry)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open store")
	}
	defer store.Close()
	log.Info().Str("backend", cfg.StoreBackend).Msg("store ready")

	var limiter middleware.Limiter = middleware.NewRateLimiter()
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
		redisClient, err := redis.NewClient(pingCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
		log.Info().Msg("redis connected, using shared rate limiter")
	}

	licenseService := service.NewLicenseService(store, codec, cfg.OfflineTolerance())
	adminService := service.NewAdminService(store, codec)

	reconcileJob := jobs.NewReconcileJob(adminService, cfg.ReconcileInterval())
	reconcileJob.Start()
	defer reconcileJob.Stop()

	r := newRouter(routerDeps{
		cfg:            cfg,
		store:          store,
		licenseService: licenseService,
		adminService:   adminService,
		limiter:        limiter,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerRequestTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Strs("products", registry.Codes()).
			Bool("testEndpoints", cfg.EnableTestEndpoints).
			Msg("starting license server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// openStore opens the configured backend. Postgres is migrated to the latest
// schema before it is handed out.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
		defer cancel()
		if err := db.Ping(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}

		if err := db.Migrate("up"); err != nil {
			db.Close()
			return nil, err
		}
		if version, dirty, err := db.MigrationVersion(); err == nil {
			log.Info().Uint("version", version).Bool("dirty", dirty).Msg("database migrated")
		}

		if cfg.MetricsEnabled {
			metrics.StartDBStatsCollector(ctx, db.DB.DB)
		}
		return repository.NewPostgresStore(db), nil

	case config.StoreBolt:
		return repository.OpenBolt(cfg.BoltPath)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
