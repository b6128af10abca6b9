// Package app wires together all dependencies and runs the portfolio
// sync service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hamletsspeak/812Hamur/internal/config"
	"github.com/hamletsspeak/812Hamur/internal/domain"
	"github.com/hamletsspeak/812Hamur/internal/event"
	"github.com/hamletsspeak/812Hamur/internal/geo"
	"github.com/hamletsspeak/812Hamur/internal/github"
	handler "github.com/hamletsspeak/812Hamur/internal/handler/http"
	"github.com/hamletsspeak/812Hamur/internal/identity/local"
	"github.com/hamletsspeak/812Hamur/internal/index"
	"github.com/hamletsspeak/812Hamur/internal/profilesync"
	"github.com/hamletsspeak/812Hamur/internal/session"
	"github.com/hamletsspeak/812Hamur/internal/store"
	"github.com/hamletsspeak/812Hamur/internal/store/postgresdoc"
	"github.com/hamletsspeak/812Hamur/internal/store/redisdoc"
	"github.com/hamletsspeak/812Hamur/migrations"
	"github.com/hamletsspeak/812Hamur/pkg/database"
	"github.com/hamletsspeak/812Hamur/pkg/health"
	"github.com/hamletsspeak/812Hamur/pkg/httpclient"
	pkgkafka "github.com/hamletsspeak/812Hamur/pkg/kafka"
	"github.com/hamletsspeak/812Hamur/pkg/middleware"
	"github.com/hamletsspeak/812Hamur/pkg/tracing"
)

// App holds the wired dependency graph and the HTTP server.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	sessions       *session.Manager
	engine         *profilesync.Engine
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "portfolio",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// PostgreSQL holds the identity accounts (and, optionally, the profile
	// documents).
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Redis backs the coordinate cache, the user index, and optionally the
	// profile documents.
	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr()))

	// Kafka producer for domain events.
	var producer *pkgkafka.Producer
	var events *event.Producer
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Profile document store.
	var documents store.DocumentStore
	switch cfg.StoreBackend {
	case "postgres":
		documents = postgresdoc.New(pool, pool, logger)
	default:
		documents = redisdoc.New(redisClient, logger)
	}
	logger.Info("profile store ready", slog.String("backend", cfg.StoreBackend))

	// Identity gateway.
	tokens := local.NewTokenManager(cfg.JWTSecret, cfg.JWTSessionExpiry)
	users := local.NewPostgresUsers(pool)
	gateway := local.NewProvider(users, tokens, nil, logger)

	var publisher session.EventPublisher
	if events != nil {
		publisher = events
	}
	sessions := session.NewManager(gateway, documents, publisher, logger)

	// Outbound HTTP: one breaker per upstream so GitHub flapping never
	// trips geocoding, and vice versa. The GitHub fetcher owns its own
	// retry policy, so the shared client does not retry.
	clientCfg := httpclient.DefaultConfig()
	clientCfg.MaxRetries = 0
	outbound := httpclient.New(clientCfg)
	githubClient := httpclient.NewCircuitBreakerClient(outbound, httpclient.DefaultCircuitBreakerConfig("github"), logger)
	nominatimClient := httpclient.NewCircuitBreakerClient(outbound, httpclient.DefaultCircuitBreakerConfig("nominatim"), logger)

	fetcher := github.NewFetcher(githubClient, cfg.GithubAccount, github.NewCache(cfg.GithubCacheTTL), logger)

	coordCache := geo.NewCoordinateCache(redisClient)
	resolver := geo.NewResolver(nominatimClient, cfg.NominatimBaseURL, cfg.NominatimUserAgent)
	seeder := geo.NewSeeder(coordCache, resolver, logger)

	engine := profilesync.NewEngine(documents, logger,
		profilesync.WithDebounce(cfg.ProfileDebounce),
		profilesync.WithLocationSeeder(seeder),
		profilesync.WithPersistHook(func(userID string, fields map[string]string) {
			if events == nil {
				return
			}
			if err := events.ProfileUpdated(context.Background(), userID, fields); err != nil {
				logger.Warn("publish profile.updated failed",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
		}),
		profilesync.WithErrorHandler(func(err error) {
			logger.Warn("profile sync failure", slog.String("error", err.Error()))
		}),
	)

	// The engine follows session transitions: a new session opens its draft,
	// sign-out closes it. The session manager publishes the signed-out event
	// itself; it already knows which user departed.
	sessions.OnSessionChanged(func(s *domain.Session) {
		if s == nil {
			engine.Close()
			return
		}
		if err := engine.LoadDraftFor(context.Background(), s.UserID); err != nil {
			logger.Error("open profile draft failed",
				slog.String("user_id", s.UserID),
				slog.String("error", err.Error()),
			)
		}
	})

	allocator := index.NewAllocator(redisClient)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	if producer != nil {
		healthHandler.Register("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	router := handler.NewRouter(
		sessions,
		engine,
		gateway,
		fetcher,
		coordCache,
		allocator,
		healthHandler,
		logger,
		middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Environment:    cfg.Environment,
		},
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		sessions:       sessions,
		engine:         engine,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components: the HTTP server drains first so
// in-flight requests can still reach the engine, then the sync machinery,
// then the shared clients.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.engine.Close()
	a.sessions.Close()

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
