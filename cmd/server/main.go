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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brewlog/auth-service/internal/app"
	"github.com/brewlog/auth-service/internal/config"
	"github.com/brewlog/auth-service/internal/observability"
	"github.com/brewlog/auth-service/internal/repository"
	"github.com/brewlog/auth-service/internal/tools/common"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:   "auth-service",
		Short: "OAuth and credential authentication service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional env file loaded before configuration")
	root.AddCommand(newServeCommand(), newPurgeSessionsCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var sweepInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			slog.SetDefault(logger)

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("server listening", "addr", cfg.HTTPAddr, "profile", cfg.Profile)
				if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve http: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				runSessionSweeper(gctx, a, sweepInterval)
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
				return a.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().DurationVar(&sweepInterval, "session-sweep-interval", time.Hour, "how often expired session rows are purged; 0 disables the sweeper")
	return cmd
}

// runSessionSweeper periodically deletes expired and revoked session rows.
// Validation already fails closed on expired sessions; the sweep only keeps
// the table from growing without bound.
func runSessionSweeper(ctx context.Context, a *app.App, interval time.Duration) {
	if interval <= 0 {
		return
	}
	sessions := repository.NewSessionRepository(a.DB)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := sessions.CleanupExpired()
			if err != nil {
				a.Logger.Error("session sweep failed", "error", err)
				continue
			}
			if purged > 0 {
				observability.AuditContext(ctx, observability.AuditSessionsPurged, observability.SeverityLow, "purged", purged)
			}
		}
	}
}

func newPurgeSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-sessions",
		Short: "Delete expired and revoked session rows once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			slog.SetDefault(logger)

			db, err := repository.Open(cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return err
			}
			defer func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			}()

			purged, err := repository.NewSessionRepository(db).CleanupExpired()
			if err != nil {
				return fmt.Errorf("purge sessions: %w", err)
			}
			observability.AuditContext(ctx, observability.AuditSessionsPurged, observability.SeverityLow, "purged", purged)
			logger.Info("purged sessions", "count", purged)
			return nil
		},
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Profile == "dev" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
