package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/fulfillment"
	httpapi "github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/logging"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/metrics"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/sequence"
	"github.com/andreasstove999/ecommerce-system/services/stock-engine-go/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("stock engine stopped")
	}
	logger.Info().Msg("shutdown complete")
}

// backend is the storage the engine runs on. Postgres also persists order
// outcomes, event sequences and consumer checkpoints.
type backend struct {
	ledger      inventory.Ledger
	outcomes    dedup.OutcomeStore[fulfillment.Result]
	sequencer   sequence.Sequencer
	checkpoints events.Checkpoints
	close       func()
}

func openBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger) (backend, error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return backend{}, fmt.Errorf("db connect: %w", err)
		}
		if cfg.RunMigrations {
			if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
				pool.Close()
				return backend{}, fmt.Errorf("db migrate: %w", err)
			}
		}
		repo := dedup.NewRepository(pool)
		return backend{
			ledger: inventory.NewPostgresRepository(pool).WithLockWait(cfg.LockWait),
			outcomes: dedup.NewJSONOutcomes(repo, func(r fulfillment.Result) string {
				return string(r.Status)
			}),
			sequencer:   sequence.NewRepository(pool),
			checkpoints: repo,
			close:       pool.Close,
		}, nil

	case config.BackendRedis:
		client, err := db.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return backend{}, err
		}
		return backend{
			ledger:    inventory.NewRedisLedger(client),
			sequencer: sequence.NewMemory(),
			close:     func() { _ = client.Close() },
		}, nil

	default:
		return backend{
			ledger:    inventory.NewMemoryLedger(),
			sequencer: sequence.NewMemory(),
			close:     func() {},
		}, nil
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "stock-engine", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("flush traces")
		}
	}()

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()
	logger.Info().Str("backend", cfg.LedgerBackend).Dur("lock_wait", cfg.LockWait).Msg("ledger ready")

	guard := dedup.NewGuard[fulfillment.Result]()
	if store.outcomes != nil {
		guard = guard.WithStore(store.outcomes)
	}

	opts := []fulfillment.Option{
		fulfillment.WithGuard(guard),
		fulfillment.WithLockWait(cfg.LockWait),
		fulfillment.WithLogger(logger.With().Str("component", "fulfillment").Logger()),
		fulfillment.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
	}

	// --- AMQP ---
	var conn *amqp.Connection
	if cfg.EventsEnabled {
		conn, err = events.DialRabbit(cfg.RabbitURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		publisher, err := events.NewPublisher(conn, store.sequencer, events.PublisherOptions{
			PublishEnveloped: cfg.PublishEnveloped,
			Logger:           logger.With().Str("component", "publisher").Logger(),
		})
		if err != nil {
			return fmt.Errorf("start publisher: %w", err)
		}
		defer publisher.Close()
		opts = append(opts, fulfillment.WithNotifier(publisher))
	}

	engine := fulfillment.NewEngine(store.ledger, opts...)

	seed, err := cfg.Seed()
	if err != nil {
		return err
	}
	for productID, qty := range seed {
		if _, err := engine.SetStock(ctx, productID, qty); err != nil {
			return fmt.Errorf("seed %s: %w", productID, err)
		}
	}

	if cfg.EventsEnabled {
		handler := events.OrderCreatedHandler(engine, logger.With().Str("component", "consumer").Logger(), events.HandlerOptions{
			ConsumeEnveloped: cfg.ConsumeEnveloped,
			Checkpoints:      store.checkpoints,
		})
		consumer, err := events.StartConsumer(ctx, conn, events.OrderCreatedRoutingKey, handler, logger)
		if err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
		defer consumer.Close()
	}

	// --- HTTP ---
	h := httpapi.NewHandler(engine, logger.With().Str("component", "http").Logger())
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, promhttp.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// --- graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
