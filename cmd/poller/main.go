package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prehled-vlaku/poller/internal/config"
	"github.com/prehled-vlaku/poller/internal/db"
	"github.com/prehled-vlaku/poller/internal/db/postgres"
	"github.com/prehled-vlaku/poller/internal/journey"
	"github.com/prehled-vlaku/poller/internal/logging"
	"github.com/prehled-vlaku/poller/internal/metrics"
	"github.com/prehled-vlaku/poller/internal/poller"
	"github.com/prehled-vlaku/poller/internal/publisher"
	"github.com/prehled-vlaku/poller/internal/realtime/grapp"
	"github.com/prehled-vlaku/poller/internal/server"
)

// store is what both the SQLite and the PostgreSQL backends provide.
type store interface {
	journey.Store
	poller.CycleRecorder
	server.Pinger
	EnsureSchema(ctx context.Context) error
	PurgeStaleOpen(ctx context.Context, staleAfter time.Duration, now time.Time) (int64, error)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "poller:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.New(os.Stdout, level, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting poller",
		slog.String("feed", cfg.FeedBaseURL),
		slog.Duration("request_pause", cfg.RequestPause),
		slog.Duration("cycle_pause", cfg.CyclePause),
		slog.Bool("run_once", cfg.RunOnce))

	// ═══════════════════════════════════════════════════════
	// PHASE 1: Storage
	// ═══════════════════════════════════════════════════════
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure database schema: %w", err)
	}
	if _, err := st.PurgeStaleOpen(ctx, cfg.StaleAfter, time.Now()); err != nil {
		logging.LogError(logger, "Failed to purge stale journeys", err)
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 2: Metrics, events and tracker
	// ═══════════════════════════════════════════════════════
	collector := metrics.NewCollector()

	opts := []journey.Option{
		journey.WithLogger(logger),
		journey.WithLocation(cfg.Location()),
	}
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, logger, collector)
		if err != nil {
			// Events are optional; tracking goes on without them.
			logging.LogError(logger, "NATS unavailable, arrival events disabled", err)
		} else {
			defer pub.Close()
			opts = append(opts, journey.WithNotifier(pub))
		}
	}

	tracker := journey.NewTracker(st, cfg.Thresholds(), opts...)
	seeded, err := tracker.Seed(ctx)
	if err != nil {
		return err
	}
	logger.Info("Seeded open journeys", slog.Int("count", seeded))

	// ═══════════════════════════════════════════════════════
	// PHASE 3: Poll loop and status server
	// ═══════════════════════════════════════════════════════
	client := grapp.NewClient(cfg.FeedBaseURL, cfg.HTTPTimeout)
	p := poller.NewPoller(poller.Deps{
		Feed:     client,
		Parser:   grapp.Parser{},
		Sessions: client,
		Tracker:  tracker,
		Cycles:   st,
		Metrics:  collector,
		Logger:   logger,
	}, cfg)

	if cfg.HTTPAddr != "" {
		srv := server.Serve(cfg.HTTPAddr, server.NewRouter(st, p, collector.Handler()), logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	err = p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Shutting down")
		return nil
	}
	return err
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, func(), error) {
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	database, err := db.Connect(cfg.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}
	return database, func() { logging.SafeClose(database, logger, "close_database") }, nil
}
