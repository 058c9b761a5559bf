package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/clock"
	"cirsqu_api/internal/config"
	"cirsqu_api/internal/logging"
	"cirsqu_api/internal/queue"
	"cirsqu_api/internal/services"
	"cirsqu_api/internal/tasks"
)

var build = "develop"

func main() {
	cfg, err := config.Load(build)
	if errors.Is(err, config.ErrHelpWanted) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("worker stopped")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	db, err := services.InitDB(cfg.DB, log)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	rdb, err := services.NewRedisClient(cfg.Redis.URL, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	clk := clock.NewSystem()
	relayQueue := queue.New(rdb, cfg.Relay.QueueName, queue.Options{
		MaxAttempts:    cfg.Relay.MaxAttempts,
		InitialBackoff: cfg.Relay.InitialBackoff,
		MaxBackoff:     cfg.Relay.MaxBackoff,
		Clock:          clk,
		Log:            log,
	})

	// Initialize Task Registry
	registry := tasks.NewRegistry()
	defs := tasks.DefineTasks(registry, tasks.Deps{
		Orders:  services.NewOrderRepository(services.NewStore(db)),
		Gateway: services.NewMidtransService(cfg.Midtrans),
		Queue:   relayQueue,
		Clock:   clk,
		Log:     log,
	})
	runner := tasks.NewRunner(tasks.NewTaskStore(db), registry, clk, log)

	if cfg.Worker.SeedRecurring {
		task, err := defs.Reconcile.CreateTask(tasks.ReconcileArgs{
			OlderThanMinutes: int(cfg.Worker.ReconcileAfter.Minutes()),
			Limit:            cfg.Worker.ReconcileBatch,
		}, cfg.Worker.ReconcileRule, clk.Now())
		if err != nil {
			return err
		}
		if _, err := runner.EnsureScheduled(ctx, task); err != nil {
			return err
		}
	}

	// Ticks never overlap; a slow run delays the next one.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Worker.Schedule, func() {
		if _, err := runner.RunDue(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("scheduled task run failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid worker schedule %q: %w", cfg.Worker.Schedule, err)
	}

	log.WithFields(logrus.Fields{"schedule": cfg.Worker.Schedule, "tasks": registry.Names()}).Info("worker started")

	// Run once on start, then on every tick
	if _, err := runner.RunDue(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("scheduled task run failed")
	}

	c.Start()
	<-ctx.Done()

	log.Info("shutting down worker")
	<-c.Stop().Done()
	return nil
}
