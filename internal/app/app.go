// Package app wires the search service together and owns its lifecycle.
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
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/StaySearchGo/internal/availability"
	"github.com/utafrali/StaySearchGo/internal/cache"
	"github.com/utafrali/StaySearchGo/internal/config"
	"github.com/utafrali/StaySearchGo/internal/event"
	handlerhttp "github.com/utafrali/StaySearchGo/internal/handler/http"
	"github.com/utafrali/StaySearchGo/internal/index"
	"github.com/utafrali/StaySearchGo/internal/indexer"
	"github.com/utafrali/StaySearchGo/internal/query"
	"github.com/utafrali/StaySearchGo/internal/rebuild"
	"github.com/utafrali/StaySearchGo/internal/store"
	"github.com/utafrali/StaySearchGo/pkg/database"
	"github.com/utafrali/StaySearchGo/pkg/health"
	"github.com/utafrali/StaySearchGo/pkg/kafka"
)

// App holds the assembled service and its closeable resources.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	pool      *pgxpool.Pool
	rdb       *redis.Client
	server    *http.Server
	consumers *event.ConsumerGroup
}

// New connects to the backing stores and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	rdb, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	primary := store.NewPostgresStore(pool)
	writer := index.NewWriter(rdb, primary, logger)
	checker := availability.NewProcessor(primary)
	engine := query.NewEngine(rdb, checker, logger)

	var searcher handlerhttp.Searcher = engine
	var cacheLayer *cache.Layer
	if cfg.CacheEnabled {
		cacheLayer = cache.NewLayer(rdb, engine, cfg.CacheTTL, logger)
		searcher = cacheLayer
	}

	rebuilder := rebuild.NewManager(writer, primary, logger)

	var invalidator indexer.CacheInvalidator
	if cacheLayer != nil {
		invalidator = cacheLayer
	}
	indexSvc := indexer.NewService(writer, invalidator, logger)

	var consumers *event.ConsumerGroup
	if cfg.ConsumerEnabled {
		idem := kafka.NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
		consumers = event.NewConsumerGroup(event.Config{
			Brokers:   cfg.KafkaBrokers,
			GroupID:   cfg.KafkaGroupID,
			EnableDLQ: cfg.DLQEnabled,
		}, indexSvc, idem, logger)
	}

	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if cfg.ConsumerEnabled {
		healthHandler.Register("kafka", func(ctx context.Context) error {
			return kafka.PingBrokers(ctx, cfg.KafkaBrokers)
		})
	}

	var purger handlerhttp.CachePurger
	if cacheLayer != nil {
		purger = cacheLayer
	}
	searchHandler := handlerhttp.NewSearchHandler(searcher, rebuilder, purger, logger)
	router := handlerhttp.NewRouter(handlerhttp.RouterConfig{
		ServiceName:    cfg.ServiceName,
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.AllowedOrigins,
		PprofCIDRs:     cfg.PprofCIDRs,
	}, searchHandler, healthHandler, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		rdb:    rdb,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		consumers: consumers,
	}, nil
}

// Run serves HTTP and consumes change notifications until the context is
// canceled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.consumers != nil {
		eg.Go(func() error {
			return a.consumers.Start(ctx)
		})
	}

	eg.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown failed", slog.String("error", err.Error()))
		}
		return nil
	})

	err := eg.Wait()

	if a.consumers != nil {
		a.consumers.Close()
	}
	if cerr := a.rdb.Close(); cerr != nil {
		a.logger.Warn("closing redis client failed", slog.String("error", cerr.Error()))
	}
	a.pool.Close()

	return err
}
