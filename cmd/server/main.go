package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/order-service/internal/adapter/handler"
	"github.com/rl1809/order-service/internal/adapter/inventory"
	"github.com/rl1809/order-service/internal/adapter/messaging"
	"github.com/rl1809/order-service/internal/adapter/storage"
	"github.com/rl1809/order-service/internal/config"
	"github.com/rl1809/order-service/internal/core/service"
	"github.com/rl1809/order-service/internal/observability"
	"github.com/rl1809/order-service/internal/port"
	"github.com/rl1809/order-service/internal/resilience"
)

const (
	publishTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	metrics := observability.NewMetrics()

	// Initialize order store
	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	redisAdapter := storage.NewRedisAdapter(rdb)

	// Inventory oracle behind the resilience policy
	var oracle port.InventoryOracle
	switch cfg.InventoryMode {
	case config.InventoryRedis:
		oracle = redisAdapter
	default:
		oracle = inventory.NewHTTPClient(cfg.InventoryURL, &http.Client{})
	}
	checker := resilience.NewInventoryClient(oracle, resilience.Config{
		Timeout: cfg.InventoryTimeout,
		Retry: resilience.RetryPolicy{
			MaxAttempts:         cfg.RetryAttempts,
			InitialInterval:     cfg.RetryInitial,
			MaxInterval:         cfg.RetryMax,
			Multiplier:          2,
			RandomizationFactor: 0.2,
		},
		Breaker: resilience.BreakerSettings{
			WindowSize:   cfg.BreakerWindow,
			MinCalls:     cfg.BreakerMinCalls,
			FailureRatio: cfg.BreakerFailureRatio,
			CoolDown:     cfg.BreakerCoolDown,
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.SetBreakerState(name, int(to))
			},
		},
	}, logger)
	metrics.SetBreakerState(checker.Breaker().Name(), int(checker.Breaker().State()))
	logger.Info("inventory oracle ready", zap.String("mode", cfg.InventoryMode))

	// Notifications
	kafkaPublisher := messaging.NewKafkaPublisher(messaging.NewWriter(cfg.KafkaBrokers))
	notifier := service.NewAsyncPublisher(kafkaPublisher, cfg.PublishQueueSize, publishTimeout, logger)
	notifier.Start(cfg.PublishWorkers)

	// Initialize service
	orderService := service.NewOrderService(store, checker, notifier, logger, service.Config{
		Topic: cfg.NotificationTopic,
	}).WithIdempotencyGuard(redisAdapter).WithRecorder(metrics)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(unaryLogger(logger)))
	handler.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(orderService, logger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
			stop()
		}
	}()

	// Initialize HTTP server
	router := chi.NewRouter()
	router.Handle("/metrics", metrics.Handler())
	router.Mount("/", handler.NewHTTPHandler(orderService, logger).Routes(metrics.Middleware))

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Drain queued notifications before closing the writer
	notifier.Close()
	if err := kafkaPublisher.Close(); err != nil {
		logger.Warn("kafka writer close", zap.Error(err))
	}
	logger.Info("notification workers stopped")

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.OrderStore, func()) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		adapter := storage.NewPostgresAdapter(pool)
		if err := adapter.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate postgres", zap.Error(err))
		}
		logger.Info("connected to postgres")
		return adapter, pool.Close

	default:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("failed to connect mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping mysql", zap.Error(err))
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate mysql", zap.Error(err))
		}
		logger.Info("connected to mysql")
		return adapter, func() { db.Close() }
	}
}

func unaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logger.Debug("grpc request",
			zap.String("method", info.FullMethod),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return resp, err
	}
}
