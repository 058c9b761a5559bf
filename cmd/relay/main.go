package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/clock"
	"cirsqu_api/internal/config"
	"cirsqu_api/internal/logging"
	"cirsqu_api/internal/queue"
	"cirsqu_api/internal/services"
)

var build = "develop"

func main() {
	requeue := flag.Bool("requeue-failed", false, "Move dead-lettered jobs back to the queue and exit")
	stats := flag.Bool("stats", false, "Print queue sizes and exit")
	flag.Parse()

	// arguments after "--" belong to the config parser
	os.Args = append(os.Args[:1], flag.Args()...)

	cfg, err := config.Load(build)
	if errors.Is(err, config.ErrHelpWanted) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err := run(cfg, log, *requeue, *stats); err != nil {
		log.WithError(err).Fatal("relay stopped")
	}
}

func run(cfg config.Config, log *logrus.Logger, requeue, stats bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := services.NewRedisClient(cfg.Redis.URL, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	q := queue.New(rdb, cfg.Relay.QueueName, queue.Options{
		MaxAttempts:    cfg.Relay.MaxAttempts,
		InitialBackoff: cfg.Relay.InitialBackoff,
		MaxBackoff:     cfg.Relay.MaxBackoff,
		PollTimeout:    cfg.Relay.PollTimeout,
		Clock:          clock.NewSystem(),
		Log:            log,
	})

	switch {
	case requeue:
		n, err := q.RequeueFailed(ctx)
		if err != nil {
			return err
		}
		log.WithField("count", n).Info("failed jobs requeued")
		return nil
	case stats:
		s, err := q.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("waiting=%d active=%d delayed=%d failed=%d\n", s.Waiting, s.Active, s.Delayed, s.Failed)
		return nil
	}

	if cfg.Relay.Token == "" {
		log.Warn("relay token not set, the applier endpoint must not require one")
	}
	forwarder := queue.NewHTTPForwarder(cfg.Relay.ApplierURL, cfg.Relay.Token, cfg.Relay.ForwardTimeout)

	log.WithFields(logrus.Fields{
		"queue":  cfg.Relay.QueueName,
		"target": cfg.Relay.ApplierURL,
	}).Info("relay started")

	err = q.ProcessExclusive(ctx, services.NewRedsync(rdb), cfg.Relay.LockTTL, forwarder)
	log.Info("relay stopped")
	return err
}
