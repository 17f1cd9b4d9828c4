// Package main - точка входа для фоновых процессов (Worker) сервиса наставничества.
//
// Worker отвечает за периодическую сверку счётчиков менторов с активными
// связями. Запускать его имеет смысл с общим хранилищем (postgres или neo4j).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/mentorship-hub/config"
	"github.com/alem-hub/mentorship-hub/internal/app"
	"github.com/alem-hub/mentorship-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.FromEnv(cfg.Observability.LogLevel, cfg.Observability.LogFormat).
		With(logger.String("service", cfg.App.Name), logger.String("binary", "worker"))
	defer func() { _ = log.Sync() }()

	log.Info("starting mentorship worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("store", string(cfg.Store.Backend)),
		logger.String("audit_schedule", cfg.Audit.Schedule),
		logger.Bool("auto_repair", cfg.Features.AutoRepair()),
	)
	if cfg.Store.Backend == config.StoreMemory {
		log.Warn("worker runs against its own in-memory store, the API does the audit itself")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ИНИЦИАЛИЗАЦИЯ КОМПОНЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire application: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := application.Close(shutdownCtx); err != nil {
			log.Error("failed to release resources", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	sched, job, err := application.Scheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gctx.Done()
		return sched.Stop()
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	if err := g.Wait(); err != nil {
		return err
	}

	for _, info := range sched.ListJobs() {
		log.Info("job summary",
			logger.String("job", info.Name),
			logger.Int64("runs", info.RunCount),
			logger.Int64("failures", info.FailCount),
		)
	}
	if last := job.LastResult(); last != nil {
		log.Info("last audit",
			logger.Int("mentors_checked", last.MentorsChecked),
			logger.Int("discrepancies", len(last.Discrepancies)),
		)
	}

	log.Info("shutdown completed successfully")
	return nil
}
