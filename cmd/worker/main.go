// Package main is the entry point for the stockrecon background worker.
// It relays the outbox: approved reconciliations are projected into the
// stock register and every lifecycle event is published on Redis.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"stockrecon/internal/config"
	"stockrecon/internal/infrastructure/cache"
	"stockrecon/internal/infrastructure/events"
	"stockrecon/internal/infrastructure/storage/postgres"
	"stockrecon/internal/infrastructure/storage/postgres/register_repo"
	"stockrecon/pkg/logger"
)

const dlqInterval = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting stockrecon worker")

	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	poolCfg.ApplicationName = "stockrecon-worker"
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	txm := postgres.NewTxManager(pool)

	rdb, err := cache.NewRedis(ctx, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalw("failed to connect to redis", "error", err)
	}
	defer func() { _ = rdb.Close() }()

	relayCfg := postgres.DefaultRelayConfig()
	relayCfg.BatchSize = cfg.OutboxBatchSize
	relayCfg.MaxRetries = cfg.OutboxMaxRetries

	// Projection first: a message is published only once stock reflects it.
	relay := postgres.NewOutboxRelay(txm, relayCfg, events.Chain(
		events.NewStockProjection(register_repo.NewStockRepo(txm)),
		events.NewRedisPublisher(rdb, cfg.EventsChannelPrefix),
	))

	w := &worker{
		relay: relay,
		poll:  cfg.OutboxPollInterval,
		log:   log.WithComponent("worker"),
	}

	g, gctx := errgroup.WithContext(logger.WithLogger(ctx, w.log))
	g.Go(func() error { return w.runRelay(gctx) })
	g.Go(func() error { return w.runDLQ(gctx) })

	if err := g.Wait(); err != nil {
		log.Errorw("worker stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}

type worker struct {
	relay *postgres.OutboxRelay
	poll  time.Duration
	log   *logger.Logger
}

// runRelay drains the outbox. After a batch that delivered something the
// next one starts immediately; otherwise the loop waits for the poll interval.
func (w *worker) runRelay(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		n, err := w.relay.ProcessBatch(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			w.log.Errorw("outbox batch failed", "error", err)
		case n > 0:
			w.log.Debugw("outbox batch delivered", "count", n)
			continue
		}

		select {
		case <-ctx.Done():
			w.log.Info("stopping outbox relay")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *worker) runDLQ(ctx context.Context) error {
	ticker := time.NewTicker(dlqInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			moved, err := w.relay.MoveToDLQ(ctx)
			if err != nil {
				w.log.Errorw("move to dlq failed", "error", err)
				continue
			}
			if moved > 0 {
				w.log.Warnw("outbox messages moved to dlq", "count", moved)
			}
		}
	}
}
