// Package main is the entry point for the stockrecon API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"stockrecon/internal/config"
	numcore "stockrecon/internal/core/numerator"
	"stockrecon/internal/domain/auth"
	"stockrecon/internal/domain/reconciliation"
	"stockrecon/internal/infrastructure/cache"
	v1 "stockrecon/internal/infrastructure/http/v1"
	"stockrecon/internal/infrastructure/http/v1/handlers"
	"stockrecon/internal/infrastructure/lock"
	"stockrecon/internal/infrastructure/storage/postgres"
	"stockrecon/internal/infrastructure/storage/postgres/catalog_repo"
	"stockrecon/internal/infrastructure/storage/postgres/document_repo"
	"stockrecon/internal/infrastructure/storage/postgres/register_repo"
	"stockrecon/pkg/logger"
	"stockrecon/pkg/numerator"
)

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
	ctx = logger.WithLogger(ctx, log)

	log.Infow("starting stockrecon server", "env", cfg.AppEnv, "lock_backend", cfg.LockBackend)

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	poolCfg.ApplicationName = "stockrecon-server"
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	txm := postgres.NewTxManager(pool)
	log.Info("database connection established")

	// --- Redis ---
	checks := map[string]handlers.Checker{"postgres": pool}
	var rdb *redis.Client
	if cfg.LockBackend == config.LockBackendRedis {
		rdb, err = cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer func() { _ = rdb.Close() }()
		checks["redis"] = cache.RedisCheck{Client: rdb}
	}

	// --- Repositories and adapters ---
	directory := cache.NewDirectoryCache(catalog_repo.NewDirectoryRepo(txm))

	audit, err := postgres.NewAuditService(txm, cfg.AuditCompressThreshold)
	if err != nil {
		log.Fatalw("failed to create audit service", "error", err)
	}

	numerators := numerator.NewWithQuerier(func(ctx context.Context) numerator.Querier {
		return txm.Querier(ctx)
	})

	var locker reconciliation.Locker
	if rdb != nil {
		locker = lock.NewRedis(rdb, cfg.LockTTL, cfg.LockWait)
	} else {
		locker = lock.NewLocal(cfg.LockWait)
	}

	service := reconciliation.NewService(reconciliation.Dependencies{
		Repo:      document_repo.NewReconciliationRepo(txm),
		Directory: directory,
		Stock:     register_repo.NewStockRepo(txm),
		Numerator: numerators,
		TxManager: txm,
		Locker:    locker,
		Events:    postgres.NewOutboxPublisher(txm),
		Audit:     audit,
	}, reconciliation.WithNumeratorOptions(numeratorOptions(cfg.NumeratorStrategy)))

	// --- HTTP ---
	jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtConfig.Issuer = cfg.JWTIssuer
	jwtService := auth.NewJWTService(jwtConfig)

	mode := gin.ReleaseMode
	if cfg.IsDevelopment() {
		mode = gin.DebugMode
	}
	router, err := v1.NewRouter(v1.RouterConfig{
		Reconciliations: service,
		Audit:           audit,
		Logger:          log,
		JWTValidator:    jwtService,
		Checks:          checks,
		Mode:            mode,
	})
	if err != nil {
		log.Fatalw("failed to build router", "error", err)
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		directory.Listen(gctx, pool.Pool)
		directory.Wait()
		return nil
	})
	g.Go(func() error {
		log.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorw("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func numeratorOptions(strategy string) *numcore.Options {
	opts := numcore.DefaultOptions()
	if strategy == config.NumeratorCached {
		opts.Strategy = numcore.StrategyCached
	}
	return opts
}
