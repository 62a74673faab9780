package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-ledger/internal/app/core/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-ledger/internal/app/core/adapter/in/http"
	kafka_adapter "github.com/JoeShih716/go-ledger/internal/app/core/adapter/out/kafka"
	memory_adapter "github.com/JoeShih716/go-ledger/internal/app/core/adapter/out/memory"
	rdb_adapter "github.com/JoeShih716/go-ledger/internal/app/core/adapter/out/rdb"
	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-ledger/internal/config"
	"github.com/JoeShih716/go-ledger/pkg/database"
	"github.com/JoeShih716/go-ledger/pkg/wal"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化 Store (memory + WAL 或 SQL)
	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// 3. 初始化 UseCase
	guard := usecase.NewAccountGuard(cfg.Ledger.GuardTimeout)
	balances := usecase.NewBalanceEngine(st.accounts, st.entries, st.checkpoints, logger)
	manager := usecase.NewCheckpointManager(st.accounts, st.entries, st.checkpoints, guard, nil, logger, usecase.CheckpointConfig{
		Interval:  cfg.Checkpoint.Interval,
		Threshold: cfg.Checkpoint.Threshold,
		Workers:   cfg.Checkpoint.Workers,
		QueueSize: cfg.Checkpoint.QueueSize,
	})

	opts := []usecase.CoordinatorOption{
		usecase.WithCheckpointNotifier(manager),
		usecase.WithLogger(logger),
	}
	// 事件發送跟著服務一起結束，等 publisher drain 完才關 Kafka writer
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	if cfg.Events.Kafka.Enabled {
		kafkaPublisher := kafka_adapter.NewPublisher(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
		async := memory_adapter.NewAsyncPublisher(kafkaPublisher, cfg.Events.Buffer, logger)
		async.Start(bgCtx)
		defer func() {
			cancelBg()
			<-async.Done()
			if dropped := async.Dropped(); dropped > 0 {
				logger.Warn("transaction events dropped", "count", dropped)
			}
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("failed to close kafka writer", "error", err)
			}
		}()
		opts = append(opts, usecase.WithEventPublisher(async))
		logger.Info("publishing transaction events", "brokers", cfg.Events.Kafka.Brokers, "topic", cfg.Events.Kafka.Topic)
	}
	coordinator := usecase.NewTransferCoordinator(st.accounts, st.entries, balances, guard, opts...)
	coreUseCase := usecase.NewCoreUseCase(st.accounts, st.entries, balances, coordinator, manager, usecase.CoreConfig{
		Currencies: cfg.Ledger.Currencies,
	})

	// 重啟後 dirty 計數遺失，全部帳戶掃一次
	if err := manager.MarkAllDirty(ctx); err != nil {
		return fmt.Errorf("mark accounts dirty: %w", err)
	}
	manager.Start(bgCtx)

	// 4. 啟動 gRPC Server
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpc_adapter.LoggingInterceptor(logger)))
	grpc_adapter.RegisterLedgerServiceServer(grpcServer, grpc_adapter.NewGrpcServer(coreUseCase))
	reflection.Register(grpcServer)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting gRPC server", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	// 5. 啟動 HTTP Server (選用)
	var httpServer *http_adapter.Server
	if cfg.Server.HTTPAddr != "" {
		httpServer = http_adapter.NewServer(coreUseCase, logger, http_adapter.Config{
			WriteLimit:  cfg.Server.WriteLimit,
			WriteWindow: cfg.Server.WriteWindow,
		})
		go func() {
			logger.Info("starting HTTP server", "addr", cfg.Server.HTTPAddr)
			if err := httpServer.Listen(cfg.Server.HTTPAddr); err != nil {
				errCh <- fmt.Errorf("http serve: %w", err)
			}
		}()
	}

	// Graceful Shutdown
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down server...")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}
	grpcServer.GracefulStop()
	return serveErr
}

type stores struct {
	accounts    usecase.AccountStore
	entries     usecase.LedgerStore
	checkpoints usecase.CheckpointStore
	closers     []func() error
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}
}

// openStores 依 storage.driver 選擇 memory (WAL) 或 SQL
func openStores(cfg config.Config, logger *slog.Logger) (*stores, error) {
	ids, err := domain.NewSnowflakeIDs(cfg.Ledger.NodeID)
	if err != nil {
		return nil, err
	}
	st := &stores{}

	if cfg.Storage.Driver == config.StorageMemory {
		accountWAL, err := wal.NewWAL(filepath.Join(cfg.Storage.WALDir, "accounts.wal"))
		if err != nil {
			return nil, fmt.Errorf("init account wal: %w", err)
		}
		st.closers = append(st.closers, accountWAL.Close)
		entryWAL, err := wal.NewWAL(filepath.Join(cfg.Storage.WALDir, "entries.wal"))
		if err != nil {
			st.close()
			return nil, fmt.Errorf("init entry wal: %w", err)
		}
		st.closers = append(st.closers, entryWAL.Close)

		accounts, err := memory_adapter.NewAccountStore(accountWAL)
		if err != nil {
			st.close()
			return nil, err
		}
		entries, err := memory_adapter.NewLedgerStore(memory_adapter.WithWAL(entryWAL), memory_adapter.WithIDGenerator(ids))
		if err != nil {
			st.close()
			return nil, err
		}
		st.accounts = accounts
		st.entries = entries
		st.checkpoints = memory_adapter.NewCheckpointStore(cfg.Checkpoint.Retain)
		logger.Info("using in-memory ledger", "wal_dir", cfg.Storage.WALDir)
		return st, nil
	}

	client, err := database.NewClient(cfg.Storage.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Storage.Driver, err)
	}
	st.closers = append(st.closers, client.Close)
	if err := rdb_adapter.AutoMigrate(client.DB()); err != nil {
		st.close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	entries, err := rdb_adapter.NewLedgerStore(client, rdb_adapter.WithIDGenerator(ids))
	if err != nil {
		st.close()
		return nil, err
	}
	st.accounts = rdb_adapter.NewAccountStore(client)
	st.entries = entries
	st.checkpoints = rdb_adapter.NewCheckpointStore(client)
	logger.Info("using SQL ledger", "driver", cfg.Storage.Driver)
	return st, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
