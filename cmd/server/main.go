// Package main is the entrypoint for the autolister dashboard API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kiranshivaraju/autolister/internal/api"
	"github.com/kiranshivaraju/autolister/internal/api/handler"
	mw "github.com/kiranshivaraju/autolister/internal/api/middleware"
	"github.com/kiranshivaraju/autolister/internal/api/response"
	"github.com/kiranshivaraju/autolister/internal/cache"
	"github.com/kiranshivaraju/autolister/internal/config"
	"github.com/kiranshivaraju/autolister/internal/jobstatus"
	"github.com/kiranshivaraju/autolister/internal/ledger"
	"github.com/kiranshivaraju/autolister/internal/metrics"
	"github.com/kiranshivaraju/autolister/internal/runner"
	"github.com/kiranshivaraju/autolister/internal/scheduler"
	"github.com/kiranshivaraju/autolister/internal/stopsignal"
	"github.com/kiranshivaraju/autolister/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireRedis(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "work_dir", cfg.Workflow.WorkDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Server.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(reg)

	// 6. Job runner and scheduler share the working directory
	pgStore := store.NewPostgresStore(pool)
	dir := cfg.Workflow.WorkDir
	stats := ledger.New(dir)
	jobs := runner.New(runner.ConfigFrom(cfg.Workflow), jobstatus.NewStore(dir), stats,
		stopsignal.New(dir, stopsignal.JobMarkerName), m)
	resetStaleJob(jobs)

	loop := scheduler.New(scheduler.ConfigFrom(cfg.Scheduler), pgStore, jobs,
		stopsignal.New(dir, stopsignal.SchedulerMarkerName), redisCache, m)
	loop.UseClaims(redisCache)
	schedCtl := scheduler.NewController(ctx, loop, redisCache)

	// 7. Build router with dependencies
	jobH := handler.NewJobHandlers(jobs, pgStore)
	statsH := handler.NewStatsHandlers(stats)
	runCfgH := handler.NewRunConfigHandlers(dir)
	shotsH := handler.NewScreenshotHandlers(dir)
	listingH := handler.NewListingHandlers(pgStore)
	profileH := handler.NewProfileHandlers(cfg.Workflow.ProfilesDir, pgStore)
	scheduleH := handler.NewScheduleHandlers(pgStore, redisCache)
	schedulerH := handler.NewSchedulerHandlers(schedCtl)
	historyH := handler.NewHistoryHandlers(pgStore, redisCache)
	keyH := handler.NewKeyHandlers(pgStore)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RequestsPerMinute),

		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: m.Handler(),

		StartJob:  jobH.Start,
		StopJob:   jobH.Stop,
		JobStatus: jobH.Status,
		ResetJob:  jobH.Reset,

		GetStats:    statsH.Get,
		ResetStats:  statsH.Reset,
		ActivityLog: statsH.Activity,

		GetRunConfig:    runCfgH.Get,
		UpdateRunConfig: runCfgH.Update,

		ListScreenshots:  shotsH.List,
		GetScreenshot:    shotsH.Get,
		ClearScreenshots: shotsH.Clear,

		ListListings:   listingH.List,
		GetListing:     listingH.Get,
		CreateListing:  listingH.Create,
		UpdateListing:  listingH.Update,
		DeleteListing:  listingH.Delete,
		ListDeleted:    listingH.ListDeleted,
		RestoreListing: listingH.Restore,
		PurgeListing:   listingH.Purge,

		ListProfiles:       profileH.List,
		SetProfileLocation: profileH.SetLocation,

		ListSchedules:  scheduleH.List,
		ScheduleStats:  scheduleH.Stats,
		GetSchedule:    scheduleH.Get,
		CreateSchedule: scheduleH.Create,
		UpdateSchedule: scheduleH.Update,
		DeleteSchedule: scheduleH.Delete,

		StartScheduler:  schedulerH.Start,
		StopScheduler:   schedulerH.Stop,
		SchedulerStatus: schedulerH.Status,

		ListHistory:   historyH.List,
		ExportHistory: historyH.Export,
		HistoryStats:  historyH.Stats,
		TrackUpload:   historyH.Track,
		UpdateUpload:  historyH.UpdateStatus,

		CreateKeyHandler: keyH.Create,
		ListKeysHandler:  keyH.List,
		RevokeKeyHandler: keyH.Revoke,
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := schedCtl.Shutdown(shutdownCtx); err != nil {
		slog.Warn("scheduler loop did not stop in time", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type staleResetter interface {
	ResetStale() (bool, error)
}

// resetStaleJob clears a job document left by a previous run of the service.
func resetStaleJob(r staleResetter) {
	reset, err := r.ResetStale()
	switch {
	case err != nil:
		slog.Warn("failed to reset job status", "error", err)
	case reset:
		slog.Info("job status reset to idle")
	default:
		slog.Info("workflow process from another service is still running, job status kept")
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			slog.Warn("database health check failed", "error", err)
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			slog.Warn("cache health check failed", "error", err)
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
