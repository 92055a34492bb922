package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/taskledger/api/handler"
	"github.com/fastygo/taskledger/internal/config"
	"github.com/fastygo/taskledger/internal/infrastructure/monitor"
	pgInfra "github.com/fastygo/taskledger/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/taskledger/internal/infrastructure/redis"
	"github.com/fastygo/taskledger/internal/ledger/local"
	"github.com/fastygo/taskledger/internal/ledger/program"
	"github.com/fastygo/taskledger/internal/metrics"
	"github.com/fastygo/taskledger/internal/middleware"
	"github.com/fastygo/taskledger/internal/router"
	"github.com/fastygo/taskledger/internal/services"
	"github.com/fastygo/taskledger/internal/services/lifecycle"
	"github.com/fastygo/taskledger/pkg/httpcontext"
	"github.com/fastygo/taskledger/pkg/logger"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/repository/memory"
	"github.com/fastygo/taskledger/repository/postgres"
	redisRepo "github.com/fastygo/taskledger/repository/redis"
	authUC "github.com/fastygo/taskledger/usecase/auth"
	taskUC "github.com/fastygo/taskledger/usecase/task"
	txUC "github.com/fastygo/taskledger/usecase/transaction"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen()
	appCtx := manager.Context()

	programID, err := program.ParseID(cfg.Ledger.ProgramID)
	if err != nil {
		zapLogger.Fatal("invalid LEDGER_PROGRAM_ID", zap.Error(err))
	}

	store, err := openAccountStore(cfg.Ledger)
	if err != nil {
		zapLogger.Fatal("failed to open ledger store", zap.Error(err))
	}
	ledgerClient := local.New(local.Options{
		ProgramID:     programID,
		BlockInterval: cfg.Ledger.BlockInterval,
		MaxAnchorAge:  cfg.Ledger.MaxAnchorAge,
		Store:         store,
		Logger:        zapLogger.Named("ledger"),
	})
	manager.Register("ledger", func(ctx context.Context) error {
		return ledgerClient.Close()
	})
	manager.Go("ledger", func(ctx context.Context) error {
		ledgerClient.Run(ctx)
		return nil
	})
	zapLogger.Info("ledger ready",
		zap.String("program_id", programID.String()),
		zap.String("store", cfg.Ledger.Store),
		zap.Duration("block_interval", cfg.Ledger.BlockInterval),
	)

	mon := monitor.New(10*time.Second, zapLogger)
	mon.Register("ledger", monitor.LedgerCheck(ledgerClient), time.Second)

	var sessionRepo repository.SessionRepository
	switch cfg.Storage.SessionDriver {
	case config.DriverRedis:
		redisClient, err := redisInfra.NewClient(appCtx, cfg.Redis)
		if err != nil {
			zapLogger.Fatal("redis connection failed", zap.Error(err))
		}
		manager.Register("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
		mon.Register("redis", monitor.RedisCheck(redisClient), 2*time.Second)
		sessionRepo = redisRepo.NewSessionRepository(redisClient, cfg.Auth.SessionTTL)
	default:
		zapLogger.Warn("using in-memory session store; sessions will not survive a restart")
		sessionRepo = memory.NewSessionRepository(cfg.Auth.SessionTTL)
	}

	var journal repository.TransactionJournal
	switch cfg.Storage.JournalDriver {
	case config.DriverPostgres:
		if err := pgInfra.RunMigrations(cfg, zapLogger); err != nil {
			zapLogger.Fatal("migrations failed", zap.Error(err))
		}
		pool, err := pgInfra.NewPool(appCtx, cfg.Database, zapLogger)
		if err != nil {
			zapLogger.Fatal("postgres connection failed", zap.Error(err))
		}
		manager.Register("postgres", func(ctx context.Context) error {
			pgInfra.Close(pool, zapLogger)
			return nil
		})
		mon.Register("postgres", monitor.PostgresCheck(pool), 3*time.Second)
		journal = postgres.NewJournalRepository(pool)
	default:
		zapLogger.Warn("using in-memory transaction journal")
		journal = memory.NewJournal()
	}

	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop()
		return nil
	})

	appMetrics := metrics.New()

	authUseCase := authUC.New(authUC.Config{
		Secret:          cfg.Auth.Secret,
		Issuer:          cfg.Auth.Issuer,
		ChallengePrefix: cfg.Auth.ChallengePrefix,
		ChallengeWindow: cfg.Auth.ChallengeWindow,
		SessionTTL:      cfg.Auth.SessionTTL,
	}, sessionRepo, appMetrics, zapLogger.Named("auth"))
	taskUseCase := taskUC.New(ledgerClient, programID, zapLogger.Named("tasks"))
	txUseCase := txUC.New(ledgerClient, taskUseCase, journal, txUC.Config{
		PollInterval:   cfg.Orchestrator.PollInterval,
		ConfirmTimeout: cfg.Orchestrator.ConfirmTimeout,
		PreparedTTL:    cfg.Orchestrator.PreparedTTL,
	}, appMetrics, zapLogger.Named("transactions"))

	reconciler, err := services.NewReconcileService(txUseCase, mon, zapLogger.Named("reconciler"), services.ReconcilerConfig{
		Interval:  cfg.Orchestrator.ReconcileInterval,
		BatchSize: cfg.Orchestrator.ReconcileBatch,
	})
	if err != nil {
		zapLogger.Fatal("reconciler setup failed", zap.Error(err))
	}
	reconciler.Start()
	manager.Register("reconciler", func(ctx context.Context) error {
		reconciler.Stop(ctx)
		return nil
	})

	proxies, err := httpcontext.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		zapLogger.Fatal("invalid RATE_LIMIT_TRUSTED_PROXIES", zap.Error(err))
	}
	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout).WithTrustedProxies(proxies)

	handlers := router.Handlers{
		Auth:        apiHandler.NewAuthHandler(authUseCase, ctxAdapter, zapLogger),
		Task:        apiHandler.NewTaskHandler(taskUseCase, ctxAdapter, zapLogger),
		Transaction: apiHandler.NewTransactionHandler(txUseCase, ctxAdapter, zapLogger, cfg.Orchestrator.ConfirmTimeout+cfg.Context.RequestTimeout),
		Health:      apiHandler.NewHealthHandler(mon, ctxAdapter, zapLogger),
	}
	if cfg.HTTP.EnableMetrics {
		handlers.Metrics = appMetrics.Handler()
	}

	mw := router.Middlewares{
		Auth: middleware.SessionAuth(authUseCase, ctxAdapter, zapLogger),
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewMapLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
		mw.RateLimit = middleware.RateLimit(limiter, proxies, appMetrics, zapLogger)
	}
	r := router.New(handlers, mw)

	server := &fasthttp.Server{
		Handler:         r.Handler,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		Concurrency:     cfg.HTTP.MaxConn,
		Name:            cfg.AppName,
		CloseOnShutdown: true,
	}

	manager.Go("http_server", func(ctx context.Context) error {
		zapLogger.Info("server started", zap.String("address", cfg.Address()))
		return server.ListenAndServe(cfg.Address())
	})
	manager.Register("http_server", func(ctx context.Context) error {
		return server.ShutdownWithContext(ctx)
	})

	if err := manager.Wait(); err != nil {
		zapLogger.Error("component failure, shutting down", zap.Error(err))
	}

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}

func openAccountStore(cfg config.LedgerConfig) (local.AccountStore, error) {
	if cfg.Store != config.DriverBolt {
		return local.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
		return nil, err
	}
	return local.OpenBolt(cfg.StorePath, "")
}
