// Package app wires configuration into a running engine and HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/middleware"
	"github.com/Ramsey-B/fern/internal/repositories/document"
	"github.com/Ramsey-B/fern/internal/repositories/memory"
	"github.com/Ramsey-B/fern/internal/startup"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apartments"
	"github.com/Ramsey-B/fern/pkg/cache"
	"github.com/Ramsey-B/fern/pkg/collapse"
	"github.com/Ramsey-B/fern/pkg/embedding"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/geocoder"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/reconciliation"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/reconcile"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/store"
)

// Version is stamped at build time.
var Version = "dev"

// lockWait bounds how long a writer waits for another writer's entity lock.
const lockWait = 5 * time.Second

// App owns every long-lived dependency of the process.
type App struct {
	Config *config.Config
	Logger ectologger.Logger

	startup *startup.Startup
	checks  map[string]health.Pinger

	db       database.DB
	store    store.Store
	redis    *cache.Client
	producer *kafka.Producer
	graph    *graph.Client

	engine *reconciliation.Engine
}

// New builds the logger. Dependencies connect in Start.
func New(cfg *config.Config) (*App, error) {
	logger, err := NewLogger(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		checks:  make(map[string]health.Pinger),
	}, nil
}

// NewLogger builds a zap-backed logger. Pretty logs use the development
// encoder.
func NewLogger(level string, pretty bool) (ectologger.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if pretty {
		zapCfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

// Start connects every enabled dependency, applies migrations and builds the
// engine.
func (a *App) Start(ctx context.Context) error {
	cfg := a.Config

	if cfg.TracingEnabled {
		var shutdown func(context.Context) error
		a.startup.AddDependency(startup.Dependency{
			Name: "tracing",
			StartFunc: func(ctx context.Context) error {
				var err error
				shutdown, err = tracing.Setup(ctx, tracing.ProviderConfig{
					ServiceName: cfg.AppName,
					Endpoint:    cfg.TracingEndpoint,
					Insecure:    cfg.TracingInsecure,
				})
				return err
			},
			StopFunc: func(ctx context.Context) error { return shutdown(ctx) },
		})
	}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		a.store = memory.NewStore()
	default:
		a.addPostgres()
	}

	if cfg.RedisEnabled {
		a.startup.AddDependency(startup.Dependency{
			Name: "redis",
			StartFunc: func(ctx context.Context) error {
				client, err := cache.NewClient(ctx, cfg.Redis, a.Logger)
				if err != nil {
					return err
				}
				a.redis = client
				a.checks["redis"] = health.PingFunc(client.Ping)
				return nil
			},
			StopFunc: func(context.Context) error { return a.redis.Close() },
		})
	}

	if cfg.KafkaEnabled {
		a.startup.AddDependency(startup.Dependency{
			Name: "kafka",
			StartFunc: func(context.Context) error {
				a.producer = kafka.NewProducer(cfg.Kafka, a.Logger)
				return nil
			},
			StopFunc: func(context.Context) error { return a.producer.Close() },
		})
	}

	if cfg.GraphEnabled {
		a.startup.AddDependency(startup.Dependency{
			Name: "neo4j",
			StartFunc: func(ctx context.Context) error {
				client, err := graph.NewClient(cfg.Graph, a.Logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return fmt.Errorf("graph unreachable: %w", err)
				}
				a.graph = client
				a.checks["neo4j"] = health.PingFunc(client.VerifyConnectivity)
				return nil
			},
			StopFunc: func(ctx context.Context) error { return a.graph.Close(ctx) },
		})
	}

	if err := a.startup.Start(ctx); err != nil {
		return err
	}

	a.engine = a.buildEngine()
	a.Logger.WithFields(map[string]any{
		"store":     cfg.StoreDriver,
		"redis":     cfg.RedisEnabled,
		"kafka":     cfg.KafkaEnabled,
		"graph":     cfg.GraphEnabled,
		"geocoder":  cfg.GeocoderEnabled,
		"embedding": cfg.EmbeddingEnabled,
	}).Info("Application started")
	return nil
}

func (a *App) addPostgres() {
	a.startup.AddDependency(startup.Dependency{
		Name: "postgres",
		StartFunc: func(ctx context.Context) error {
			db, err := database.Open(ctx, a.Config.Database, a.Logger)
			if err != nil {
				return err
			}
			a.db = db
			a.store = document.NewRepository(db, a.Logger)
			a.checks["postgres"] = db
			return nil
		},
		StopFunc: func(context.Context) error { return a.db.Close() },
	})
	a.startup.AddDependency(startup.Dependency{
		Name:     "migrations",
		Requires: []string{"postgres"},
		StartFunc: func(context.Context) error {
			return database.NewMigrationService(a.Logger, &a.Config.Migrations).MigratePostgres(a.db)
		},
	})
}

func (a *App) buildEngine() *reconciliation.Engine {
	cfg := a.Config

	var c cache.Cache = cache.NewMemoryCache()
	if a.redis != nil {
		c = cache.NewRedisCache(a.redis, cfg.AppName+":cache:")
	}

	var embedder matching.EmbeddingMatcher
	if cfg.EmbeddingEnabled {
		embedder = embedding.NewClient(cfg.Embedding, cache.Instrumented("embedding", c), a.Logger)
	}

	var geo scheduler.Geocoder
	if cfg.GeocoderEnabled {
		geo = geocoder.NewNominatim(cfg.Geocoder, cache.Instrumented("geocoder", c), a.Logger)
	}

	retrier := retry.New(cfg.StoreRetry, a.Logger)

	var (
		listeners []collapse.Listener
		opts      []reconciliation.Option
	)
	if a.producer != nil {
		emitter := events.NewEmitter(a.producer, a.Logger)
		listeners = append(listeners, emitter)
		opts = append(opts, reconciliation.WithEmitter(emitter))
	}
	if a.graph != nil {
		provenance := graph.NewProvenanceService(a.graph, a.Logger)
		listeners = append(listeners, provenance)
		opts = append(opts, reconciliation.WithGraph(provenance))
	}
	if a.redis != nil {
		opts = append(opts, reconciliation.WithLocker(cache.NewLocker(a.redis, "lock:", lockWait)))
	}

	policies := apartments.NewPolicyResolver(cfg.Reconcile.TypeThreshold, cfg.Reconcile.ForceReplace, cfg.Reconcile.CopyOnly)

	return reconciliation.NewEngine(
		a.Logger,
		a.store,
		retrier,
		matching.NewMatcher(a.Logger, embedder),
		scheduler.NewScheduler(a.Logger, a.store, scheduler.NewBuilder(a.Logger, geo), retrier),
		collapse.NewCollapser(a.Logger, a.store, retrier, listeners...),
		policies,
		cfg.Reconcile.Config,
		opts...,
	)
}

// Engine returns the engine built by Start.
func (a *App) Engine() *reconciliation.Engine {
	return a.engine
}

// RunOptions returns run options seeded from configuration.
func (a *App) RunOptions() reconciliation.Options {
	opts := reconciliation.DefaultOptions()
	opts.Threshold = a.Config.Reconcile.Threshold
	opts.TypeThreshold = a.Config.Reconcile.TypeThreshold
	opts.Backfill = a.Config.Reconcile.BackfillOnRun
	return opts
}

// NewServer builds the HTTP server around the started engine.
func (a *App) NewServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = a.Config.HTTPReadTimeout
	e.Server.WriteTimeout = a.Config.HTTPWriteTimeout
	e.Server.IdleTimeout = a.Config.HTTPIdleTimeout

	e.Use(otelecho.Middleware(a.Config.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.Logger))
	e.HTTPErrorHandler = middleware.Error(a.Logger)

	checker := health.NewChecker(Version, a.checks)
	checker.RegisterRoutes(e)
	reconcile.NewHandler(a.engine, a.Logger).RegisterRoutes(e)
	checker.SetReady(true)
	return e
}

// Serve runs the HTTP server until ctx is cancelled, then drains it.
func (a *App) Serve(ctx context.Context) error {
	e := a.NewServer()
	addr := ":" + strconv.Itoa(a.Config.Port)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Infof("Listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()
	a.Logger.Info("Shutting down HTTP server")
	return e.Shutdown(shutdownCtx)
}

// Close stops every started dependency.
func (a *App) Close(ctx context.Context) error {
	return a.startup.Stop(ctx)
}
