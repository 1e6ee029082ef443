package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/tablesync/internal/adapter/handler"
	"github.com/rl1809/tablesync/internal/adapter/memory"
	"github.com/rl1809/tablesync/internal/adapter/messaging"
	"github.com/rl1809/tablesync/internal/adapter/storage"
	"github.com/rl1809/tablesync/internal/config"
	"github.com/rl1809/tablesync/internal/core/service"
	"github.com/rl1809/tablesync/internal/port"
)

const shutdownTimeout = 10 * time.Second

type orderStore interface {
	port.OrderRepository
	port.StockReader
}

func main() {
	configPath := flag.String("config", os.Getenv("TABLESYNC_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
		logger.Info("connections closed")
	}()

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		closers = append(closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	var (
		store  orderStore
		locker port.OrderLocker
		dedup  port.DedupStore
	)
	switch cfg.Store {
	case config.StoreMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return fmt.Errorf("open mysql: %w", err)
		}
		closers = append(closers, db.Close)
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping mysql: %w", err)
		}
		logger.Info("connected to mysql")

		mysqlAdapter := storage.NewMySQLAdapter(db, logger)
		if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		redisAdapter := storage.NewRedisAdapter(rdb, cfg.Sync.LockTTL, logger)
		store, locker, dedup = mysqlAdapter, redisAdapter, redisAdapter
	default:
		logger.Warn("using in-memory store, state is lost on restart")
		store, locker, dedup = memory.NewOrderStore(), memory.NewLocker(), memory.NewDedupStore()
	}

	var publisher port.NotificationPublisher
	switch cfg.Notifier.Backend {
	case config.NotifierRabbitMQ:
		rabbit, err := messaging.NewRabbitPublisher(cfg.Notifier.AMQPURL, logger)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		closers = append(closers, rabbit.Close)
		publisher = rabbit
	case config.NotifierRedis:
		publisher = messaging.NewRedisPublisher(rdb)
	default:
		publisher = memory.NewPublisher(logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(registry)

	notifier := service.NewNotifier(publisher, dedup, logger, metrics, service.NotifierConfig{
		QueueSize:      cfg.Notifier.QueueSize,
		PublishTimeout: cfg.Notifier.PublishTimeout,
	})

	svcCfg := service.Config{
		StoreTimeout:     cfg.Sync.StoreTimeout,
		DefaultListLimit: cfg.Sync.DefaultListLimit,
		MaxListLimit:     cfg.Sync.MaxListLimit,
	}
	syncService := service.NewSyncService(store, locker, notifier, metrics, logger, svcCfg)
	amendmentService := service.NewAmendmentService(store, locker, notifier, metrics, logger, svcCfg)

	grpcServer := grpc.NewServer(
		grpc.ForceServerCodec(handler.JSONCodec()),
		grpc.ChainUnaryInterceptor(handler.LogUnary(logger)),
	)
	handler.RegisterOrderSyncServer(grpcServer, handler.NewGRPCHandler(syncService, amendmentService, logger))

	httpHandler := handler.NewHTTPHandler(syncService, amendmentService, store, logger)
	mux := httpHandler.Routes()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.LogRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("started notifier workers", "workers", cfg.Notifier.Workers)
		notifier.Run(cfg.Notifier.Workers)
		logger.Info("notifier workers stopped")
		return nil
	})

	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		// Requests are drained, so nothing enqueues after this.
		notifier.Close()
		return nil
	})

	return g.Wait()
}
