package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/outcomesignal/entitlements-api/cmd/api"
	"github.com/outcomesignal/entitlements-api/internal/domain/expiration"
	"github.com/outcomesignal/entitlements-api/internal/domain/subscription"
	"github.com/outcomesignal/entitlements-api/pkg/config"
	"github.com/outcomesignal/entitlements-api/pkg/db"
	"github.com/outcomesignal/entitlements-api/pkg/logger"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "entitlements",
	Short:         "Subscription tier entitlements and trial lifecycle service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Connect API, expiration scheduler and event emitter",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var expireTrialsCmd = &cobra.Command{
	Use:   "expire-trials",
	Short: "Expire every trial past its end date once and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExpireTrials(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, _ *config.Config, d *db.DB, log *slog.Logger) error {
			return db.Migrate(ctx, d.Pool, log)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, _ *config.Config, d *db.DB, log *slog.Logger) error {
			return db.Rollback(ctx, d.Pool, log)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations have been applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, _ *config.Config, d *db.DB, _ *slog.Logger) error {
			statuses, err := db.Status(ctx, d.Pool)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tSOURCE")
			for _, s := range statuses {
				state, appliedAt := "pending", "-"
				if s.Applied {
					state, appliedAt = "applied", s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Version, state, appliedAt, s.Source)
			}
			return tw.Flush()
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "entitlements %s (%s)\n", Version, GitCommit)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(serveCmd, expireTrialsCmd, migrateCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(os.Stdout, cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	slog.SetDefault(log)
	return cfg, log, nil
}

func runServe(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("starting entitlements service", "version", Version, "addr", cfg.Server.Addr())

	deps, err := api.InitDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	return api.Serve(ctx, deps)
}

// errJobFailed makes the process exit non-zero after printing a summary
// that carries errors.
var errJobFailed = errors.New("trial expiration reported errors")

func runExpireTrials(ctx context.Context) error {
	return withDatabase(ctx, func(ctx context.Context, cfg *config.Config, d *db.DB, log *slog.Logger) error {
		store := subscription.NewPostgresStore(d.Pool, cfg.Entitlements.TrialPeriod, log)
		summary := expiration.NewJob(store, log).Run(ctx)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
		if !summary.Success {
			return errJobFailed
		}
		return nil
	})
}

func withDatabase(ctx context.Context, fn func(context.Context, *config.Config, *db.DB, *slog.Logger) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := db.New(db.Config{
		DSN:             cfg.Database.DSN(),
		MaxConns:        2,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	}, log)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, cfg, d, log)
}
