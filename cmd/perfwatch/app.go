package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xela07ax/perfwatch/internal/audit"
	"github.com/xela07ax/perfwatch/internal/connectors"
	"github.com/xela07ax/perfwatch/internal/engine"
	"github.com/xela07ax/perfwatch/internal/infra"
	"github.com/xela07ax/perfwatch/internal/repository/postgres"
)

// app — собранный граф зависимостей. Общий для всех подкоманд.
type app struct {
	cfg    *infra.Config
	logger *zap.Logger

	store    *postgres.Store
	rdb      *redis.Client
	grpcConn *grpc.ClientConn

	registry   *prometheus.Registry
	metrics    *engine.Metrics
	guard      *engine.Guard
	journal    *audit.Journal
	notifier   engine.Notifier
	signals    *engine.RedisSignals
	classifier *engine.Classifier
	runner     *engine.CycleRunner
}

func newApp(ctx context.Context) (*app, error) {
	// 1. Конфиг и логгер
	cfg, v, err := infra.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	// 2. Инфраструктура и ресурсы
	a.store, err = postgres.NewStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	a.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}

	// Метрики
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = engine.NewMetrics(a.registry)

	// 3. Надежность внешних вызовов
	a.guard = engine.NewGuard(engine.GuardSettings{
		Attempts:           cfg.Engine.RetryAttempts,
		CallTimeout:        cfg.Engine.CallTimeout,
		CallsPerSecond:     cfg.Engine.CallsPerSecond,
		Burst:              cfg.Engine.CallBurst,
		CBMaxRequests:      cfg.Engine.CBMaxRequests,
		CBInterval:         cfg.Engine.CBInterval,
		CBTimeout:          cfg.Engine.CBTimeout,
		CBFailureThreshold: cfg.Engine.CBFailureThreshold,
	}, a.metrics, logger)

	// 4. Шлюз уведомлений: gRPC или лог
	if cfg.Notifier.Address != "" {
		notifier, conn, err := connectors.DialNotifier(cfg.Notifier.Address, cfg.Notifier.Timeout)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.notifier, a.grpcConn = notifier, conn
	} else {
		logger.Warn("notifier address is empty, notifications are logged only")
		a.notifier = connectors.NewLogNotifier(logger)
	}

	// 5. Журнал воздействий: данные полетят в базу пачками
	a.journal = audit.NewJournal(a.store, logger, cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval)
	a.journal.Start()

	// 6. Ядро
	a.signals = engine.NewRedisSignals(a.rdb)
	a.classifier = engine.NewClassifier(engine.ClassifierSettings{
		WarningBufferPercent: cfg.Engine.WarningBufferPercent,
		RedZoneDays:          cfg.Engine.RedZoneDays,
	})
	dispatcher := engine.NewDispatcher(a.store, a.notifier, a.signals, a.journal, a.guard, a.metrics, logger)
	a.runner = engine.NewCycleRunner(a.store, a.classifier, dispatcher, a.guard, engine.CycleSettings{
		LookbackDays: cfg.Engine.LookbackDays,
		Concurrency:  cfg.Engine.Concurrency,
		LockTTL:      cfg.Engine.CycleLockTTL,
	}, a.metrics, logger).
		WithDirectory(a.store).
		WithReviewSink(a.store).
		WithLocker(engine.NewRedisLocker(a.rdb))

	// Горячая перезагрузка порогов классификации
	infra.WatchEngine(v, logger, func(e infra.EngineConfig) {
		a.classifier.Update(engine.ClassifierSettings{
			WarningBufferPercent: e.WarningBufferPercent,
			RedZoneDays:          e.RedZoneDays,
		})
	})

	return a, nil
}

// observeJournal публикует заполненность буфера журнала.
func (a *app) observeJournal(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.metrics.JournalBufferFill.Set(float64(a.journal.Pending()))
		}
	}
}

// Close освобождает ресурсы в обратном порядке. Журнал дописывает буфер до закрытия базы.
// Время на дописывание начатых циклов при остановке.
const drainTimeout = 30 * time.Second

func (a *app) Close() {
	// Сначала дожидаемся диспетчеров: они пишут в журнал
	if a.runner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := a.runner.Drain(ctx); err != nil {
			a.logger.Warn("in-flight cycles did not finish before shutdown", zap.Error(err))
		}
		cancel()
	}
	if a.journal != nil {
		a.journal.Stop()
	}
	if a.grpcConn != nil {
		a.grpcConn.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Sync()
}
