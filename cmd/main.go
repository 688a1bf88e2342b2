package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/planzut/plan-sync/internal/config"
	"github.com/planzut/plan-sync/internal/discovery"
	"github.com/planzut/plan-sync/internal/httpapi"
	"github.com/planzut/plan-sync/internal/runs"
	"github.com/planzut/plan-sync/internal/schedule"
	"github.com/planzut/plan-sync/internal/store"
	"github.com/planzut/plan-sync/internal/student"
	"github.com/planzut/plan-sync/internal/zut"
	"github.com/planzut/plan-sync/pkg/log"
)

// scheduledSyncGroup keeps overlapping cron triggers from stacking syncs.
var scheduledSyncGroup singleflight.Group

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.LogLevel))

	st, err := store.New(cfg.DB.Path)
	if err != nil {
		log.Fatal("Failed to open store at %s: %v", cfg.DB.Path, err)
	}
	defer func() { _ = st.Close() }()

	client, err := zut.NewClient(zut.Config{
		BaseURL: cfg.Plan.BaseURL,
		Timeout: time.Duration(cfg.Plan.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatal("Failed to create portal client: %v", err)
	}

	disc := discovery.New(client, st.Cache())
	manager := runs.NewManager(st, disc)
	resolver := student.NewResolver(st, client, disc)

	server := httpapi.NewServer(manager, resolver, st,
		httpapi.WithDefaultTokName(cfg.Plan.DefaultTokName),
		httpapi.WithDefaultWorkers(cfg.Sync.MaxWorkers),
	)

	cronEngine := cron.New()
	if cfg.Sync.CronExpr != "" && cfg.Plan.DefaultTokName != "" {
		if _, err := cronEngine.AddFunc(cfg.Sync.CronExpr, func() {
			runScheduledSync(manager, cfg.Plan.DefaultTokName, cfg.Sync.MaxWorkers)
		}); err != nil {
			log.Fatal("Failed to schedule sync: %v", err)
		}
		cronEngine.Start()
		log.Info("Scheduled discovery for %s at %q", cfg.Plan.DefaultTokName, cfg.Sync.CronExpr)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", cfg.HTTP.Addr)
		errCh <- server.ListenAndServe(cfg.HTTP.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)
		}
	}

	cronEngine.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP shutdown: %v", err)
	}
	// An in-flight run finishes before the store closes.
	manager.Wait()
}

func runScheduledSync(manager *runs.Manager, tokName string, workers int) {
	_, _, _ = scheduledSyncGroup.Do("sync", func() (any, error) {
		run, err := manager.Start(tokName, schedule.DefaultRange(time.Now()), workers)
		if err != nil {
			if errors.Is(err, runs.ErrRunConflict) {
				log.Info("Scheduled sync skipped: %v", err)
				return nil, nil
			}
			log.Error("Scheduled sync failed to start: %v", err)
			return nil, err
		}
		log.Info("Scheduled sync started: run %s", run.ID)
		manager.Wait()
		return nil, nil
	})
}
