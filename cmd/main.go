/**
 * @description
 * This is the main entry point for the supporter-service.
 * It loads configuration, selects the subscriber store, wires the optional
 * RabbitMQ producer and Redis rate limiter, and starts the HTTP server and the
 * snapshot scheduler.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/transfa/supporter-service/internal/api"
	"github.com/transfa/supporter-service/internal/app"
	"github.com/transfa/supporter-service/internal/config"
	"github.com/transfa/supporter-service/internal/domain"
	"github.com/transfa/supporter-service/internal/metrics"
	"github.com/transfa/supporter-service/internal/store"
	"github.com/transfa/supporter-service/pkg/rabbitmq"
	"github.com/transfa/supporter-service/pkg/ratelimit"
)

func main() {
	// Load .env for local development; in production variables come from the environment.
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	tiers, err := config.LoadTierTable(cfg.TiersFile)
	if err != nil {
		logger.Error("failed to load tier table", "path", cfg.TiersFile, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Subscriber store
	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open subscriber store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	m := metrics.New()
	if subs, err := repo.Load(ctx); err == nil {
		m.SetActiveSubscribers(domain.CountActive(subs))
	}

	opts := []app.Option{app.WithRecorder(m)}

	// Lifecycle events are optional; the service runs without a broker.
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable; lifecycle events disabled", "error", err)
		} else {
			defer producer.Close()
			opts = append(opts, app.WithPublisher(producer, cfg.EventsExchange))
			logger.Info("rabbitmq producer connected", "exchange", cfg.EventsExchange)
		}
	}

	reconciler := app.NewReconciler(repo, app.Policy(cfg.ReconcilePolicy), logger, opts...)
	dashboard := app.NewDashboardService(repo, tiers, logger)

	// Rate limiter for the operator routes
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed; limiter will allow requests until it recovers", "error", err)
		}
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.DashboardRateLimitPerMinute, time.Minute)
		logger.Info("using redis rate limiter")
	} else {
		memLimiter := ratelimit.NewMemoryLimiter(cfg.DashboardRateLimitPerMinute)
		defer memLimiter.Stop()
		limiter = memLimiter
	}

	auth, err := api.DashboardAuth(cfg, logger)
	if err != nil {
		logger.Error("failed to configure dashboard auth", "error", err)
		os.Exit(1)
	}

	deps := api.RouterDeps{
		Webhook:        api.NewWebhookHandler(reconciler, cfg.KofiVerificationToken, m, logger),
		Dashboard:      api.NewDashboardHandler(dashboard, logger),
		Metrics:        m.Handler(),
		MetricsMW:      m.Middleware,
		DashboardAuth:  auth,
		AllowedOrigins: cfg.Origins(),
	}
	if cfg.DashboardRateLimitPerMinute > 0 {
		deps.RateLimit = ratelimit.Middleware(limiter, "dashboard", logger)
	}
	router := api.NewRouter(deps)

	// Snapshot scheduler
	scheduler := app.NewScheduler(app.NewJobs(repo, logger, cfg), logger, cfg)
	scheduler.Start()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			"port", cfg.ServerPort,
			"policy", reconciler.Policy(),
			"store", cfg.StoreDriver,
			"dashboard_auth", cfg.DashboardAuth,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("timed out waiting for running jobs")
	}

	logger.Info("server stopped")
}

// openStore returns the configured repository and a function releasing it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn("using in-memory subscriber store; data is lost on restart")
		return store.NewMemoryRepository(), func() {}, nil

	case config.StorePostgres:
		dbpool, err := store.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repo := store.NewPostgresRepository(dbpool)
		if err := repo.EnsureSchema(ctx); err != nil {
			dbpool.Close()
			return nil, nil, err
		}
		logger.Info("database connection established")
		return repo, dbpool.Close, nil

	default:
		repo := store.NewFileRepository(cfg.StorePath, logger)
		if err := repo.Init(ctx); err != nil {
			return nil, nil, err
		}
		logger.Info("using file subscriber store", "path", repo.Path())
		return repo, func() {}, nil
	}
}
