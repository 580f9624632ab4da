package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/toolgate/internal/collector"
	"github.com/xela07ax/toolgate/internal/domain"
	"github.com/xela07ax/toolgate/internal/infra"
	"github.com/xela07ax/toolgate/internal/infra/auth"
	"github.com/xela07ax/toolgate/internal/store"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.Named("collector")

	// Метрики процесса для Prometheus
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 2. Хранилище версий политики: Postgres либо память
	var policyStore store.Store
	if cfg.Database.URL != "" {
		pg := store.NewPostgresStore(cfg.Database.URL)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := pg.Ping(ctx); err != nil {
			log.Fatalf("database unreachable: %v", err)
		}
		cancel()
		policyStore = pg
		logger.Info("policy store: postgres")
	} else {
		policyStore = store.NewMemoryStore()
		logger.Warn("policy store: in-memory, versions will not survive restart")
	}

	// 3. Сигналинг шлюзам через Redis (опционально)
	var signaler collector.RefreshSignaler = collector.NoopSignaler{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		signaler = collector.NewRedisSignaler(rdb, infra.RedisChanPolicyUpdate, logger)
	}

	// 4. Операторская аутентификация (опционально, по наличию ключа)
	var authService *auth.Service
	if len(cfg.Auth.PrivateKey) > 0 && cfg.Auth.OperatorUsername != "" {
		privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
		if err != nil {
			log.Fatalf("failed to parse private key: %v", err)
		}
		authService = auth.NewService(domain.Operator{
			ID:           "operator",
			Username:     cfg.Auth.OperatorUsername,
			PasswordHash: cfg.Auth.OperatorHash,
			Scopes:       map[string]bool{"policies.write": true},
		}, privateKey)
	} else {
		logger.Warn("operator auth disabled: policy mutations are open")
	}

	// 5. Сборка сервера
	traces := collector.NewTraceStore(cfg.Collector.TraceBuffer)
	policyHandler := collector.NewPolicyHandler(policyStore, signaler, logger)
	eventHandler := collector.NewEventHandler(traces, cfg.Security.UpstreamKey, cfg.Security.MaxSkew, logger)

	server := collector.NewServer(policyHandler, eventHandler, authService, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("collector started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("collector stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %+v", err)
	}
	logger.Info("collector exited properly")
}
