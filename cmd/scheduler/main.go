// Command scheduler runs the feed-polling scheduler as a long-lived
// process: it opens the configured repository, wires the action
// executor and status API, and drives the tick loop until SIGINT or
// SIGTERM, following the teacher's main.go shutdown shape
// (signal.Notify + graceful Stop) generalized from an HTTP server's
// shutdown to the scheduler's tick-drain shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedscheduler/internal/actions"
	"github.com/bryan-buckman/feedscheduler/internal/clockrand"
	"github.com/bryan-buckman/feedscheduler/internal/concurrency"
	"github.com/bryan-buckman/feedscheduler/internal/config"
	"github.com/bryan-buckman/feedscheduler/internal/httpfetch"
	"github.com/bryan-buckman/feedscheduler/internal/parse"
	"github.com/bryan-buckman/feedscheduler/internal/ports"
	"github.com/bryan-buckman/feedscheduler/internal/repo"
	"github.com/bryan-buckman/feedscheduler/internal/scheduler"
	"github.com/bryan-buckman/feedscheduler/internal/statusapi"
)

const shutdownDrain = 30 * time.Second

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	db, dbType, err := openRepo(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open repository")
	}
	defer db.Close()

	guards := concurrency.NewGuards(cfg.GlobalMaxConcurrentRequests, cfg.PerHostMaxConcurrent)

	exec := &actions.Executor{
		HTTP:              httpfetch.New(cfg.UserAgent),
		Repo:              db,
		Clock:             clockrand.SystemClock{},
		Rand:              clockrand.SystemRandom{},
		Parser:            parse.New(),
		Guards:            guards,
		Log:               log,
		HistorySampleRate: cfg.HistorySampleRate,
		UserAgent:         cfg.UserAgent,
	}

	status := statusapi.New(guards, func() string { return dbType }, log)

	sched := scheduler.New(scheduler.Scheduler{
		Repo:                  db,
		Exec:                  exec,
		Clock:                 clockrand.SystemClock{},
		Log:                   log,
		Metrics:               status.Metrics(),
		TickInterval:          cfg.TickInterval,
		DueBatchSize:          cfg.DueBatchSize,
		MaxPollSeconds:        cfg.MaxPollSeconds,
		JitterFraction:        cfg.JitterFraction,
		ProcessingConcurrency: cfg.ProcessingConcurrency,
	})

	go func() {
		if err := status.Start(cfg.StatusAddr); err != nil {
			log.WithError(err).Error("status api exited")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())

	log.WithFields(logrus.Fields{
		"tick_interval": cfg.TickInterval,
		"db_type":       dbType,
	}).Info("scheduler starting")

	go sched.RunForever(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("received shutdown signal")
	cancel()

	// Stop races RunForever's exit against shutdownDrain: ctx cancellation
	// aborts in-flight HTTP promptly, but a tick stuck past the deadline is
	// abandoned rather than waited on forever (spec.md §4.3).
	if !sched.Stop(shutdownDrain) {
		log.Warn("shutdown drain deadline exceeded; exiting with work in flight")
	}
	status.Stop()
	log.Info("scheduler stopped")
}

// repoCloser is the subset of the two concrete repo types main needs:
// the ports.Repo the scheduler and executor consume, plus Close for the
// top-level defer.
type repoCloser interface {
	ports.Repo
	Close() error
}

// openRepo selects SQLite or PostgreSQL per cfg, mirroring the teacher's
// DB-URL-scheme dispatch in main.go. Dev mode deletes the SQLite file
// first so local iteration never carries over stale schedules.
func openRepo(cfg config.AppConfig) (repoCloser, string, error) {
	if cfg.DBURL != "" {
		switch {
		case strings.HasPrefix(cfg.DBURL, "postgres://"), strings.HasPrefix(cfg.DBURL, "postgresql://"):
			r, err := repo.NewPostgres(cfg.DBURL)
			return r, "PostgreSQL", err
		case strings.HasPrefix(cfg.DBURL, "sqlite://"):
			path := strings.TrimPrefix(cfg.DBURL, "sqlite://")
			return openSQLite(path, cfg.Mode)
		}
	}
	return openSQLite(cfg.DBPath, cfg.Mode)
}

func openSQLite(path string, mode config.Mode) (repoCloser, string, error) {
	if mode == config.ModeDev {
		_ = os.Remove(path)
	}
	r, err := repo.NewSQLite(path)
	return r, "SQLite", err
}
