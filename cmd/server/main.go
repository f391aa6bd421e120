package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/farm-fulfillment/internal/adapter/handler"
	"github.com/rl1809/farm-fulfillment/internal/adapter/lock"
	"github.com/rl1809/farm-fulfillment/internal/adapter/storage"
	"github.com/rl1809/farm-fulfillment/internal/auth"
	"github.com/rl1809/farm-fulfillment/internal/config"
	"github.com/rl1809/farm-fulfillment/internal/core/service"
	"github.com/rl1809/farm-fulfillment/internal/observability"
	"github.com/rl1809/farm-fulfillment/internal/port"
	"github.com/rl1809/farm-fulfillment/pkg/logger"
)

const (
	serviceName     = "farm-fulfillment"
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Environment)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, log, observability.TracingConfig{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Enabled:     cfg.OTelEnabled,
		SampleRatio: 1,
	})
	if err != nil {
		log.Fatal("failed to init tracing", zap.Error(err))
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}

	locker, closeLocker, err := openLocker(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open locker", zap.String("driver", cfg.LockDriver), zap.Error(err))
	}

	revenuePolicy, err := service.ParseRevenuePolicy(cfg.RevenuePolicy)
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ledger := service.NewLedger(store, locker, log,
		service.WithLockWait(cfg.LockWait),
		service.WithMetrics(service.NewLedgerMetrics(registry)),
	)
	dashboard := service.NewDashboard(ledger, store, auth.ContextIdentity{}, service.DashboardConfig{
		LowStockThreshold: cfg.LowStockThreshold,
		RecentOrdersLimit: cfg.RecentOrdersLimit,
		RevenuePolicy:     revenuePolicy,
	}, log)

	// HTTP server
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		handler.RequestIDMiddleware(),
		otelgin.Middleware(serviceName),
		logger.GinMiddleware(log),
	)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL, log)
	handler.NewHTTPHandler(dashboard, jwtManager, cfg.AllowDevLogin, log).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// gRPC server, health only
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		log.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		log.Info("gRPC server stopped")
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}

	closeLocker()
	closeStore()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", zap.Error(err))
	}
	log.Info("connections closed")
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (port.Store, func(), error) {
	switch cfg.StoreDriver {
	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("connected to mysql")
		return migrated(ctx, storage.NewMySQLStore(db), db)

	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.SQLitePath+"?_busy_timeout=5000&_journal_mode=WAL")
		if err != nil {
			return nil, nil, err
		}
		// one writer at a time keeps sqlite from returning SQLITE_BUSY mid-confirmation
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("opened sqlite", zap.String("path", cfg.SQLitePath))
		return migrated(ctx, storage.NewSQLiteStore(db), db)

	default:
		if cfg.DataDir == "" {
			log.Info("using in-memory store")
			return storage.NewMemoryStore(), func() {}, nil
		}
		persister, err := storage.NewJSONFilePersister(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		store, err := storage.OpenMemoryStore(ctx, persister)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using in-memory store with JSON snapshots", zap.String("dir", cfg.DataDir))
		return store, func() {}, nil
	}
}

func migrated(ctx context.Context, store *storage.SQLStore, db *sql.DB) (port.Store, func(), error) {
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return store, func() { db.Close() }, nil
}

func openLocker(ctx context.Context, cfg *config.Config, log *zap.Logger) (port.Locker, func(), error) {
	if cfg.LockDriver != "redis" {
		return lock.NewLocalLocker(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	return lock.NewRedisLocker(rdb, cfg.LockTTL, log), func() { rdb.Close() }, nil
}
