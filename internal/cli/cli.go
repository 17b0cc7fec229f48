// Package cli is the autolister command line: the standalone scheduler
// service plus maintenance commands that act on the shared working directory.
//
//	autolister
//	├── scheduler run     # poll the due-queue until stopped
//	├── scheduler stop    # write the scheduler stop marker
//	├── job status        # print the current job status document
//	├── job stop          # request a cooperative stop of the running job
//	├── stats show        # print the run counters
//	├── stats reset       # zero the run counters
//	└── keys create       # mint an API key for the dashboard
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/autolister/internal/apikey"
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

// Version is set at build time with -ldflags.
var Version = "dev"

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "autolister",
		Short:         "Autolister scheduler service and maintenance commands",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(buildSchedulerCommand())
	rootCmd.AddCommand(buildJobCommand())
	rootCmd.AddCommand(buildStatsCommand())
	rootCmd.AddCommand(buildKeysCommand())

	return rootCmd
}

func buildSchedulerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run or stop the standalone scheduler service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Poll the due-queue and run due entries until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScheduler(ctx)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Ask a running scheduler to exit after its current entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLocal()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			marker := stopsignal.New(cfg.Workflow.WorkDir, stopsignal.SchedulerMarkerName)
			if err := marker.Set(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stop requested: %s\n", marker.Path())
			return nil
		},
	})

	return cmd
}

// runScheduler is the standalone scheduler service. Redis is optional here:
// without it there is no heartbeat for dashboards and no cross-process claim.
func runScheduler(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	pgStore := store.NewPostgresStore(pool)

	var hb scheduler.Heartbeat
	var claims scheduler.Claimer
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			slog.Warn("redis unreachable, running without heartbeat", "error", err)
		} else {
			hb, claims = rc, rc
		}
	}

	dir := cfg.Workflow.WorkDir
	m := metrics.NewCollector(nil)
	jobs := runner.New(runner.ConfigFrom(cfg.Workflow), jobstatus.NewStore(dir), ledger.New(dir),
		stopsignal.New(dir, stopsignal.JobMarkerName), m)
	if reset, err := jobs.ResetStale(); err != nil {
		slog.Warn("failed to reset job status", "error", err)
	} else if !reset {
		slog.Info("workflow process from another service is still running, job status kept")
	}
	loop := scheduler.New(scheduler.ConfigFrom(cfg.Scheduler), pgStore, jobs,
		stopsignal.New(dir, stopsignal.SchedulerMarkerName), hb, m)
	if claims != nil {
		loop.UseClaims(claims)
	}

	if err := loop.Run(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	slog.Info("scheduler stopped")
	return nil
}

func buildJobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect or stop the workflow job",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current job status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLocal()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), jobstatus.NewStore(cfg.Workflow.WorkDir).Load())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Request a cooperative stop of the running job",
		Long: `Writes the job stop marker. The workflow process checks it between
listings, so the current listing finishes before the job exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLocal()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			marker := stopsignal.New(cfg.Workflow.WorkDir, stopsignal.JobMarkerName)
			if err := marker.Set(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stop requested: %s\n", marker.Path())
			return nil
		},
	})

	return cmd
}

func buildStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show or reset the run counters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the run counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLocal()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), ledger.New(cfg.Workflow.WorkDir).GetStats())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Zero the run counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLocal()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			stats, err := ledger.New(cfg.Workflow.WorkDir).Reset()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	})

	return cmd
}

func buildKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage dashboard API keys",
	}

	var name string
	var scopes []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, raw, err := apikey.New(name, scopes, time.Now())
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool, err := store.Connect(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			if err := store.NewPostgresStore(pool).CreateAPIKey(cmd.Context(), key); err != nil {
				return fmt.Errorf("create api key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:     %s\n", key.ID)
			fmt.Fprintf(out, "scopes: %s\n", strings.Join(key.Scopes, ","))
			fmt.Fprintf(out, "key:    %s\n", raw)
			fmt.Fprintln(out, "Store this key now; it cannot be shown again.")
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	create.Flags().StringSliceVar(&scopes, "scopes", nil, "comma-separated scopes: read, write, admin (default read)")
	cmd.AddCommand(create)

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
