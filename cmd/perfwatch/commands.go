package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/perfwatch/internal/console/handler"
	"github.com/xela07ax/perfwatch/internal/console/server"
	"github.com/xela07ax/perfwatch/internal/console/service"
	"github.com/xela07ax/perfwatch/internal/domain"
	"github.com/xela07ax/perfwatch/internal/engine"
)

func runCycle(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.runner.RunEvaluationCycle(ctx, domain.CycleFilter{ProjectID: cycleProject, WorkerID: cycleWorker})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.logger.Named("scheduler")
	go a.observeJournal(ctx)

	interval := a.cfg.Engine.ScheduleInterval
	logger.Info("scheduler started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary, err := a.runner.RunEvaluationCycle(ctx, domain.CycleFilter{})
		switch {
		case errors.Is(err, engine.ErrCycleInProgress):
			logger.Info("cycle skipped, another instance holds the lock")
		case err != nil:
			logger.Error("cycle failed", zap.Error(err))
		default:
			logger.Info("cycle finished",
				zap.String("cycle_id", summary.CycleID),
				zap.Int("processed", summary.Processed),
				zap.Int("escalated", summary.Escalated),
			)
		}

		select {
		case <-ctx.Done():
			logger.Info("scheduler stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Redis без persistence теряет множество пауз: восстанавливаем из журнала
	paused, err := a.store.ListPausedPairs(ctx)
	if err != nil {
		a.logger.Warn("paused pairs lookup failed", zap.Error(err))
	} else if _, err := engine.WarmupPausedPairs(ctx, a.rdb, a.logger, paused); err != nil {
		a.logger.Warn("paused set warm-up failed", zap.Error(err))
	}

	// Локальное представление пауз для проверки выдачи задач
	pauses := engine.NewPauseRegistry(a.rdb, a.logger)
	if err := pauses.Init(ctx); err != nil {
		return err
	}
	go pauses.StartListener(ctx)
	go a.observeJournal(ctx)

	// Инициализация слоев (Dependency Injection)
	appealSvc := service.NewAppealService(a.store, a.notifier, a.signals, a.guard, a.logger)
	cycleSvc := service.NewCycleService(a.runner, a.classifier)
	assignmentSvc := service.NewAssignmentService(pauses, a.signals, a.store, a.logger)

	api := server.NewConsoleServer(
		a.logger,
		a.store,
		a.registry,
		handler.NewCycleHandler(cycleSvc),
		handler.NewAppealHandler(appealSvc),
		handler.NewAssignmentHandler(assignmentSvc),
	)

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("console API stopping")
	// Даем 5 секунд на завершение запросов
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info("schema applied")
	return nil
}
