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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/toolgate/internal/approval"
	"github.com/xela07ax/toolgate/internal/audit"
	"github.com/xela07ax/toolgate/internal/engine"
	"github.com/xela07ax/toolgate/internal/infra"
	"github.com/xela07ax/toolgate/internal/policy"
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
	logger = logger.Named("gateway")

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// Экспортируем метрики для Prometheus
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 3. Поставка политики: TTL-кэш поверх коллектора + сигналы из Redis
	policyClient := policy.NewTTLClient(cfg.Collector.URL, cfg.Collector.CacheTTL, cfg.Collector.FetchTimeout, logger)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		go engine.ListenPolicyUpdates(appCtx, rdb, logger, infra.RedisChanPolicyUpdate, policyClient)
	}

	// 4. Очередь согласований (HITL)
	notifier := approval.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.BufferSize, logger)
	notifier.Start()
	defer notifier.Stop()

	approvals := approval.NewStore(notifier, logger)
	go approvals.RunSweeper(appCtx, cfg.Approvals.SweepInterval)

	// 5. Аудит: асинхронный поток событий в коллектор
	emitter := audit.NewEmitter(cfg.Collector.URL, cfg.Security.UpstreamKey, metrics.EventBufferFill, logger)
	emitter.Start()
	defer emitter.Stop()

	// 6. Сборка ядра и HTTP-поверхности
	core := engine.NewGateCore(policyClient, approvals, emitter, metrics, logger)
	upstream := engine.NewUpstream(cfg.Collector.URL, cfg.Security.UpstreamKey, cfg.Collector.FetchTimeout, logger)
	approvalsAPI := engine.NewApprovalsAPI(approvals, logger)

	server := engine.NewServer(core, upstream, approvalsAPI, emitter, metrics, cfg.Security.IngressKey, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %+v", err)
	}
	logger.Info("gateway exited properly")
}
